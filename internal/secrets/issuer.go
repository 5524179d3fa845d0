// Package secrets issues the per-deal participation tokens handed to buyer and seller.
package secrets

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/escrowdesk/backend/internal/models"
)

// WordCount is the total number of words across both halves.
const WordCount = 24

var dictionary = []string{
	"abandon", "ability", "able", "about", "above", "absent", "absorb", "abstract", "absurd", "abuse",
	"access", "accident", "account", "accuse", "achieve", "acid", "acoustic", "acquire", "across", "act",
	"action", "actor", "actual", "adapt", "add", "addict", "address", "adjust", "admit", "adult",
	"advance", "advice", "aerobic", "affair", "afford", "afraid", "again", "age", "agent", "agree",
	"ahead", "aim", "air", "airport", "aisle", "alarm", "album", "alcohol", "alert", "alien",
	"all", "alley", "allow", "almost", "alone", "alpha", "already", "also", "alter", "always",
}

// Dictionary returns a copy of the word list tokens are drawn from.
func Dictionary() []string {
	return append([]string(nil), dictionary...)
}

type SecretStore interface {
	SetSecrets(ctx context.Context, dealID int64, buyerHalf, sellerHalf string) (models.SecretHalves, error)
}

type Issuer struct {
	store SecretStore
	rand  io.Reader
}

func NewIssuer(store SecretStore) *Issuer {
	return &Issuer{store: store, rand: rand.Reader}
}

// WithRand swaps the entropy source. Tests only.
func (i *Issuer) WithRand(r io.Reader) *Issuer {
	i.rand = r
	return i
}

// Issue samples WordCount distinct words and splits them positionally in two.
func (i *Issuer) Issue() (buyerHalf, sellerHalf string, err error) {
	words := Dictionary()
	// partial Fisher-Yates: words[:WordCount] ends up a uniform sample without replacement
	for k := 0; k < WordCount; k++ {
		n, err := rand.Int(i.rand, big.NewInt(int64(len(words)-k)))
		if err != nil {
			return "", "", fmt.Errorf("sample word: %w", err)
		}
		j := k + int(n.Int64())
		words[k], words[j] = words[j], words[k]
	}
	half := WordCount / 2
	return strings.Join(words[:half], " "), strings.Join(words[half:WordCount], " "), nil
}

// EnsureIssued returns the deal's halves, issuing and persisting them when missing.
// The store keeps whichever halves were written first, so concurrent callers agree.
func (i *Issuer) EnsureIssued(ctx context.Context, deal *models.Deal) (models.SecretHalves, error) {
	if deal.Secrets.Issued() {
		return deal.Secrets, nil
	}
	a, b, err := i.Issue()
	if err != nil {
		return models.SecretHalves{}, err
	}
	halves, err := i.store.SetSecrets(ctx, deal.ID, a, b)
	if err != nil {
		return models.SecretHalves{}, fmt.Errorf("persist secrets for deal %d: %w", deal.ID, err)
	}
	deal.Secrets = halves
	return halves, nil
}
