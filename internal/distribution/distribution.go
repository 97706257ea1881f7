package distribution

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"math/big"
	"strings"

	"tarot/internal/engine"
)

const (
	DefaultHashLength = 8
	cardsPerPacket    = 3
	dealRounds        = engine.HandSize / cardsPerPacket
	hashAlphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var (
	maxDistribution = big.NewInt(1_000_000_000_000)
	maxSequence     = big.NewInt(100_000_000_000)
	// 2^53 - 1, the remix modulus.
	maxSafeInt = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 53), big.NewInt(1))
	hashPrime  = big.NewInt(1_000_000_007)
	base36     = big.NewInt(36)
)

// GenerateNumbers draws a fresh distribution number and sequence number from
// the system CSPRNG. It is the only non-reproducible step.
func GenerateNumbers() (dist, seq *big.Int, err error) {
	return generateNumbers(rand.Reader)
}

func generateNumbers(r io.Reader) (*big.Int, *big.Int, error) {
	dist, err := rand.Int(r, maxDistribution)
	if err != nil {
		return nil, nil, fmt.Errorf("distribution number: %w", err)
	}
	seq, err := rand.Int(r, maxSequence)
	if err != nil {
		return nil, nil, fmt.Errorf("sequence number: %w", err)
	}
	return dist, seq, nil
}

// SeedFromNumbers hashes the decimal concatenation of both numbers with the
// classic hash*31+c rolling hash, wrapped to 32 bits.
func SeedFromNumbers(dist, seq *big.Int) uint32 {
	var h uint32
	for _, c := range []byte(dist.String() + seq.String()) {
		h = h*31 + uint32(c)
	}
	return h
}

// DealCardsWithSeed rebuilds the deal for a pair of numbers.
func DealCardsWithSeed(dist, seq *big.Int) engine.Deal {
	return dealFrom(ShuffleWithSeed(engine.BuildDeck(), SeedFromNumbers(dist, seq)))
}

// dealFrom hands out packets of three per seat for six rounds, then the last
// six cards to the dog.
func dealFrom(deck []engine.Card) engine.Deal {
	var d engine.Deal
	i := 0
	for round := 0; round < dealRounds; round++ {
		for seat := 0; seat < engine.NumSeats; seat++ {
			d.Hands[seat] = append(d.Hands[seat], deck[i:i+cardsPerPacket]...)
			i += cardsPerPacket
		}
	}
	d.Dog = append([]engine.Card(nil), deck[i:i+engine.DogSize]...)
	return d
}

// HashCode derives the base-36 verification code for a pair of numbers.
func HashCode(dist, seq *big.Int, length int) string {
	h := new(big.Int).Mul(dist, hashPrime)
	h.Add(h, new(big.Int).Mul(seq, big.NewInt(31)))
	h.Add(h, new(big.Int).SetUint64(uint64(SeedFromNumbers(dist, seq))))

	var b strings.Builder
	b.Grow(length)
	digit := new(big.Int)
	for i := 0; i < length; i++ {
		if h.Sign() == 0 {
			f := new(big.Int).Add(seq, big.NewInt(int64(i)))
			h.Add(h, dist).Mul(h, f).Rem(h, maxSafeInt).Abs(h)
		}
		h.QuoRem(h, base36, digit)
		b.WriteByte(hashAlphabet[digit.Int64()])
	}
	return b.String()
}

// ValidateHashCode reports whether code was produced by the two numbers.
// Codes compare case-insensitively and in constant time.
func ValidateHashCode(code string, dist, seq *big.Int) bool {
	if len(code) == 0 {
		return false
	}
	want := HashCode(dist, seq, len(code))
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(code)), []byte(want)) == 1
}

// Distribution is immutable once built.
type Distribution struct {
	Number   *big.Int
	Sequence *big.Int
	Seed     uint32
	HashCode string
	Deck     []engine.Card
}

func New(dist, seq *big.Int) Distribution {
	seed := SeedFromNumbers(dist, seq)
	return Distribution{
		Number:   new(big.Int).Set(dist),
		Sequence: new(big.Int).Set(seq),
		Seed:     seed,
		HashCode: HashCode(dist, seq, DefaultHashLength),
		Deck:     ShuffleWithSeed(engine.BuildDeck(), seed),
	}
}

func Generate() (Distribution, error) {
	dist, seq, err := GenerateNumbers()
	if err != nil {
		return Distribution{}, err
	}
	return New(dist, seq), nil
}

// ParseNumbers reads the decimal form of both numbers.
func ParseNumbers(dist, seq string) (*big.Int, *big.Int, error) {
	d, ok := new(big.Int).SetString(dist, 10)
	if !ok || d.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: distribution number %q", ErrBadNumber, dist)
	}
	s, ok := new(big.Int).SetString(seq, 10)
	if !ok || s.Sign() < 0 {
		return nil, nil, fmt.Errorf("%w: sequence number %q", ErrBadNumber, seq)
	}
	return d, s, nil
}

func (d Distribution) Deal() engine.Deal {
	return dealFrom(d.Deck)
}

func (d Distribution) String() string {
	return fmt.Sprintf("%s (%s/%s)", d.HashCode, d.Number, d.Sequence)
}
