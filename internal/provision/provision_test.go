package provision

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbflow-labs/storygraph/internal/domain"
)

type fakeMutation struct {
	created  []string
	nodes    map[uuid.UUID]*domain.Node
	resolved []resolveCall
}

type resolveCall struct {
	edgeUID      uuid.UUID
	providerID   *uuid.UUID
	unresolvable bool
}

func (m *fakeMutation) CreateNode(classFQN string, locals map[string]domain.Value) uuid.UUID {
	m.created = append(m.created, classFQN)
	return uuid.New()
}
func (m *fakeMutation) SetAttr(uid uuid.UUID, path []string, value domain.Value) {}
func (m *fakeMutation) FindOne(criteria map[string]domain.Value) (*domain.Node, bool) {
	return nil, false
}
func (m *fakeMutation) CloneNode(src uuid.UUID) (uuid.UUID, bool) { return uuid.New(), true }
func (m *fakeMutation) Get(uid uuid.UUID) (*domain.Node, bool) {
	n, ok := m.nodes[uid]
	return n, ok
}
func (m *fakeMutation) ResolveRequirement(edgeUID uuid.UUID, providerID *uuid.UUID, unresolvable bool) {
	m.resolved = append(m.resolved, resolveCall{edgeUID: edgeUID, providerID: providerID, unresolvable: unresolvable})
}

// fakeProvisioner always resolves to a fixed provider uid (or fails, if
// providerUID is uuid.Nil), and serves any frontier uid in satisfiesAny.
type fakeProvisioner struct {
	providerUID  uuid.UUID
	satisfiesAny bool
}

func (p *fakeProvisioner) Resolve(req *domain.Requirement, mut MutationAPI) (uuid.UUID, bool) {
	if p.providerUID == uuid.Nil {
		return uuid.Nil, false
	}
	return p.providerUID, true
}
func (p *fakeProvisioner) SatisfiedBy(frontier uuid.UUID) bool { return p.satisfiesAny }

func newRequirement(policy domain.ProvisionPolicy) *domain.Requirement {
	return domain.NewRequirement(map[string]domain.Value{"class": "Key"}, policy)
}

func TestAccept_SuccessfulResolveBindsProviderID(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	provider := uuid.New()
	offer := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: provider}}
	edgeUID := uuid.New()
	mut := &fakeMutation{}

	receipt := Accept(edgeUID, req, offer, mut)
	assert.True(t, receipt.Accepted)
	assert.Equal(t, provider, receipt.ProviderID)
	assert.Equal(t, "attach", receipt.Operation)
	require.NotNil(t, req.ProviderID)
	assert.Equal(t, provider, *req.ProviderID)
	assert.True(t, req.Satisfied())
	require.Len(t, mut.resolved, 1)
	assert.Equal(t, edgeUID, mut.resolved[0].edgeUID)
	require.NotNil(t, mut.resolved[0].providerID)
	assert.Equal(t, provider, *mut.resolved[0].providerID)
	assert.False(t, mut.resolved[0].unresolvable)
}

func TestAccept_FailedResolveMarksUnresolvable(t *testing.T) {
	req := newRequirement(domain.PolicyCreate)
	offer := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: uuid.Nil}}
	edgeUID := uuid.New()
	mut := &fakeMutation{}

	receipt := Accept(edgeUID, req, offer, mut)
	assert.False(t, receipt.Accepted)
	assert.Equal(t, "unresolvable", receipt.Reason)
	assert.True(t, req.IsUnresolvable)
	assert.False(t, req.Satisfied())
	require.Len(t, mut.resolved, 1)
	assert.Equal(t, edgeUID, mut.resolved[0].edgeUID)
	assert.Nil(t, mut.resolved[0].providerID)
	assert.True(t, mut.resolved[0].unresolvable)
}

func TestAccept_OperationNameFollowsPolicy(t *testing.T) {
	cases := map[domain.ProvisionPolicy]string{
		domain.PolicyExisting: "attach",
		domain.PolicyCreate:   "create",
		domain.PolicyUpdate:   "update",
		domain.PolicyClone:    "clone",
	}
	for policy, wantOp := range cases {
		req := newRequirement(policy)
		offer := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: uuid.New()}}
		receipt := Accept(uuid.New(), req, offer, &fakeMutation{})
		assert.Equal(t, wantOp, receipt.Operation, "policy %v", policy)
	}
}

func TestSortOffers_AffordanceBeforeDependencyThenPriorityThenUID(t *testing.T) {
	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	dependency := Offer{UID: high, RequirementID: uuid.New(), Priority: domain.PriorityNormal}
	affordanceLow := Offer{UID: high, RequirementID: uuid.Nil, Priority: domain.PriorityNormal}
	affordanceHigh := Offer{UID: low, RequirementID: uuid.Nil, Priority: domain.PriorityFirst}

	sorted := SortOffers([]Offer{dependency, affordanceLow, affordanceHigh})
	require.Len(t, sorted, 3)
	assert.True(t, sorted[0].IsBroadcast())
	assert.True(t, sorted[1].IsBroadcast())
	assert.False(t, sorted[2].IsBroadcast())
	assert.Equal(t, domain.PriorityFirst, sorted[0].Priority)
}

func TestSortRequirementIDs_OrdersAscendingByString(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	sorted := SortRequirementIDs([]uuid.UUID{b, a})
	assert.Equal(t, []uuid.UUID{a, b}, sorted)
}

func TestLinkAffordances_AcceptsAtMostOnePerRequirementDestination(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	frontier := []FrontierNode{{UID: uuid.New(), Dependencies: []FrontierDependency{{EdgeUID: uuid.New(), Requirement: req}}}}

	offerA := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: uuid.New(), satisfiesAny: true}}
	offerB := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: uuid.New(), satisfiesAny: true}}

	builds := LinkAffordances(frontier, []Offer{offerA, offerB}, &fakeMutation{})
	require.Len(t, builds, 1)
	assert.True(t, builds[0].Accepted)
	assert.True(t, req.Satisfied())
}

func TestLinkAffordances_SkipsAlreadySatisfiedRequirement(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	bound := uuid.New()
	req.ProviderID = &bound
	frontier := []FrontierNode{{UID: uuid.New(), Dependencies: []FrontierDependency{{EdgeUID: uuid.New(), Requirement: req}}}}

	offer := Offer{UID: uuid.New(), Provisioner: &fakeProvisioner{providerUID: uuid.New(), satisfiesAny: true}}
	builds := LinkAffordances(frontier, []Offer{offer}, &fakeMutation{})
	assert.Empty(t, builds)
}

func TestLinkDependencies_TriesOffersInPriorityOrderAcceptsFirstSuccess(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	reqID := req.UID
	frontier := []FrontierNode{{UID: uuid.New(), Dependencies: []FrontierDependency{{EdgeUID: uuid.New(), Requirement: req}}}}

	failing := Offer{UID: uuid.New(), Priority: domain.PriorityFirst, Provisioner: &fakeProvisioner{providerUID: uuid.Nil}}
	succeeding := Offer{UID: uuid.New(), Priority: domain.PriorityNormal, Provisioner: &fakeProvisioner{providerUID: uuid.New()}}

	responsive := map[uuid.UUID][]Offer{reqID: {failing, succeeding}}
	builds := LinkDependencies(frontier, responsive, &fakeMutation{})

	require.Len(t, builds, 2)
	assert.False(t, builds[0].Accepted)
	assert.True(t, builds[1].Accepted)
	assert.True(t, req.Satisfied())
}

func TestLinkDependencies_NoOffersMarksUnresolvable(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	frontier := []FrontierNode{{UID: uuid.New(), Dependencies: []FrontierDependency{{EdgeUID: uuid.New(), Requirement: req}}}}

	builds := LinkDependencies(frontier, map[uuid.UUID][]Offer{}, &fakeMutation{})
	require.Len(t, builds, 1)
	assert.False(t, builds[0].Accepted)
	assert.Equal(t, "unresolvable", builds[0].Reason)
	assert.True(t, req.IsUnresolvable)
}

func TestSummarize_CountsByOperationAndUnresolved(t *testing.T) {
	builds := []BuildReceipt{
		{Operation: "create", Accepted: true},
		{Operation: "attach", Accepted: true},
		{Operation: "clone", Accepted: true},
		{Operation: "update", Accepted: true},
		{RequirementID: uuid.New(), Accepted: false, Reason: "unresolvable"},
	}
	pr := Summarize(builds)
	assert.Equal(t, 1, pr.Created)
	assert.Equal(t, 1, pr.Updated)
	assert.Equal(t, 1, pr.Cloned)
	assert.Equal(t, 1, pr.Attached)
	assert.Len(t, pr.UnresolvedHardRequirements, 1)
}

func TestDefaultProvisioner_ExistingResolvesByIdentifierFirst(t *testing.T) {
	target := domain.NewNode("key", "Key")
	mut := &fakeMutation{nodes: map[uuid.UUID]*domain.Node{target.UID: target}}

	req := newRequirement(domain.PolicyExisting)
	req.Identifier = &target.UID

	dp := NewDefaultProvisioner()
	uid, ok := dp.Resolve(req, mut)
	require.True(t, ok)
	assert.Equal(t, target.UID, uid)
}

func TestDefaultProvisioner_ExistingFallsBackToCriteria(t *testing.T) {
	req := newRequirement(domain.PolicyExisting)
	mut := &fakeMutation{}
	dp := NewDefaultProvisioner()

	_, ok := dp.Resolve(req, mut)
	assert.False(t, ok) // fakeMutation.FindOne always misses
}

func TestDefaultProvisioner_CreateBuildsFromTemplate(t *testing.T) {
	req := newRequirement(domain.PolicyCreate)
	req.Template = &domain.TemplateData{ClassFQN: "Key", Locals: map[string]domain.Value{"shiny": true}}
	mut := &fakeMutation{}
	dp := NewDefaultProvisioner()

	_, ok := dp.Resolve(req, mut)
	require.True(t, ok)
	require.Len(t, mut.created, 1)
	assert.Equal(t, "Key", mut.created[0])
}

func TestDefaultProvisioner_CreateWithoutTemplateFails(t *testing.T) {
	req := newRequirement(domain.PolicyCreate)
	mut := &fakeMutation{}
	dp := NewDefaultProvisioner()

	_, ok := dp.Resolve(req, mut)
	assert.False(t, ok)
}

func TestDefaultProvisioner_SatisfiedByAlwaysFalse(t *testing.T) {
	dp := NewDefaultProvisioner()
	assert.False(t, dp.SatisfiedBy(uuid.New()))
}
