package secrets

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/escrowdesk/backend/internal/models"
	"github.com/escrowdesk/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueSplitsUniqueWords(t *testing.T) {
	iss := NewIssuer(nil)
	known := make(map[string]bool)
	for _, w := range Dictionary() {
		known[w] = true
	}

	for run := 0; run < 50; run++ {
		a, b, err := iss.Issue()
		require.NoError(t, err)

		left, right := strings.Split(a, " "), strings.Split(b, " ")
		assert.Len(t, left, WordCount/2)
		assert.Len(t, right, WordCount/2)

		seen := make(map[string]bool)
		for _, w := range append(left, right...) {
			assert.True(t, known[w], "word %q not in dictionary", w)
			assert.False(t, seen[w], "duplicate word %q", w)
			seen[w] = true
		}
		assert.Len(t, seen, WordCount)
	}
}

func TestIssueFailsOnExhaustedEntropy(t *testing.T) {
	iss := NewIssuer(nil).WithRand(strings.NewReader(""))
	_, _, err := iss.Issue()
	assert.Error(t, err)
}

func TestDictionaryIsCopied(t *testing.T) {
	d := Dictionary()
	d[0] = "tampered"
	assert.Equal(t, "abandon", Dictionary()[0])
}

func createDeal(t *testing.T, store *repositories.MemoryDealStore) *models.Deal {
	t.Helper()
	d := &models.Deal{
		Buyer:       models.ResolvedParty(1, ""),
		Seller:      models.HandleParty("bob"),
		Amount:      decimal.NewFromInt(100),
		Currency:    "USD",
		Description: "Laptop sale",
		Status:      models.DealStatusNew,
	}
	require.NoError(t, store.Create(context.Background(), d))
	return d
}

func TestEnsureIssuedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryDealStore()
	iss := NewIssuer(store)
	d := createDeal(t, store)

	first, err := iss.EnsureIssued(ctx, d)
	require.NoError(t, err)
	require.True(t, first.Issued())

	// fresh read, so the halves come from the store rather than the cached struct
	reloaded, err := store.GetByID(ctx, d.ID)
	require.NoError(t, err)
	second, err := iss.EnsureIssued(ctx, reloaded)
	require.NoError(t, err)

	assert.Equal(t, *first.BuyerHalf, *second.BuyerHalf)
	assert.Equal(t, *first.SellerHalf, *second.SellerHalf)
}

func TestEnsureIssuedConcurrentCallersAgree(t *testing.T) {
	ctx := context.Background()
	store := repositories.NewMemoryDealStore()
	iss := NewIssuer(store)
	d := createDeal(t, store)

	const callers = 20
	results := make([]models.SecretHalves, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			local := *d
			h, err := iss.EnsureIssued(ctx, &local)
			assert.NoError(t, err)
			results[i] = h
		}(i)
	}
	wg.Wait()

	for _, h := range results[1:] {
		assert.Equal(t, *results[0].BuyerHalf, *h.BuyerHalf)
		assert.Equal(t, *results[0].SellerHalf, *h.SellerHalf)
	}
}
