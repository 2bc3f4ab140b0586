package vm

import (
	"encoding/binary"
	"math/rand"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// SeedTick derives a tick's deterministic RNG seed from the inputs that
// fully determine it: the story id, the epoch (patch count so far), the
// chosen edge, and a hash of the base graph state.
func SeedTick(storyID string, epoch uint64, choiceID uuid.UUID, baseHash []byte) uint64 {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(storyID))
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], epoch)
	h.Write(epochBuf[:])
	h.Write(choiceID[:])
	h.Write(baseHash)
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// TickRNG is the per-tick deterministic source of randomness. NextUUID
// draws exactly two uint64s from it per UID. The effect buffer does not use
// it: CreateNode and AddEdge allocate their uids with uuid.New, so those
// uids are not reproducible from the tick seed.
type TickRNG struct {
	r *rand.Rand
}

// NewTickRNG constructs a TickRNG from a tick's derived seed.
func NewTickRNG(seed uint64) *TickRNG {
	return &TickRNG{r: rand.New(rand.NewSource(int64(seed)))}
}

// NextUUID draws two 64-bit values from the RNG and assembles a UUID,
// setting the version/variant bits so the result is a valid v4-shaped UUID.
func (t *TickRNG) NextUUID() uuid.UUID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], t.r.Uint64())
	binary.BigEndian.PutUint64(buf[8:16], t.r.Uint64())
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	id, _ := uuid.FromBytes(buf[:])
	return id
}
