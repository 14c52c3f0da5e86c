// internal/services/issuer_test.go
package services

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/PickupDesk/internal/errors"
	"github.com/Corphon/PickupDesk/internal/models"
	"github.com/Corphon/PickupDesk/internal/storage"
	"github.com/Corphon/PickupDesk/internal/voucher"
)

func newIssuer(store storage.ItemStore) *IssueService {
	s := NewIssueService(store)
	s.now = func() time.Time { return testNow }
	return s
}

func TestIssueBatchKeepsOwnedRedeemableItems(t *testing.T) {
	store := storage.NewMemoryStore()
	other := photoItem("X", models.StatusConfirmed)
	other.OwnerID = "u2"
	put(t, store,
		photoItem("A", models.StatusConfirmed),
		photoItem("B", models.StatusConfirmed),
		photoItem("C", models.StatusReserved),
		other,
	)

	issued, err := newIssuer(store).Issue(context.Background(), IssueRequest{
		ItemType: models.ItemTypePhoto,
		OwnerID:  "u1",
		ItemIDs:  []string{"A", "B", "B", "C", "X", "missing"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.VoucherBatch, issued.Kind)
	assert.Equal(t, []string{"A", "B"}, issued.ItemIDs)
	assert.Equal(t, []string{"C", "X", "missing"}, issued.SkippedIDs)

	v, err := voucher.Decode(issued.Payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, v.ItemIDs)
	assert.Equal(t, "u1", v.OwnerID)
	assert.True(t, v.IssuedAt.Equal(testNow))

	png, err := base64.StdEncoding.DecodeString(issued.QRCodePNG)
	require.NoError(t, err)
	text, err := voucher.DecodeFrame(png)
	require.NoError(t, err)
	assert.Equal(t, issued.Payload, text)
}

func TestIssueSingle(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, photoItem("A", models.StatusConfirmed))

	issued, err := newIssuer(store).Issue(context.Background(), IssueRequest{
		ItemType: models.ItemTypePhoto, OwnerID: "u1", ItemIDs: []string{"A"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.VoucherSingle, issued.Kind)

	v, err := voucher.Decode(issued.Payload)
	require.NoError(t, err)
	assert.Equal(t, models.VoucherSingle, v.Kind)
	assert.Equal(t, []string{"A"}, v.ItemIDs)
}

func TestIssueErrors(t *testing.T) {
	store := storage.NewMemoryStore()
	put(t, store, photoItem("A", models.StatusRedeemed))
	issuer := newIssuer(store)

	_, err := issuer.Issue(context.Background(), IssueRequest{ItemType: "ticket", OwnerID: "u1", ItemIDs: []string{"A"}})
	assert.True(t, apperrors.IsValidationError(err))

	_, err = issuer.Issue(context.Background(), IssueRequest{ItemType: models.ItemTypePhoto, ItemIDs: []string{"A"}})
	assert.True(t, apperrors.IsValidationError(err))

	_, err = issuer.Issue(context.Background(), IssueRequest{ItemType: models.ItemTypePhoto, OwnerID: "u1", ItemIDs: []string{" "}})
	assert.True(t, apperrors.IsValidationError(err))

	_, err = issuer.Issue(context.Background(), IssueRequest{ItemType: models.ItemTypePhoto, OwnerID: "u1", ItemIDs: []string{"A"}})
	assert.True(t, apperrors.IsNotFoundError(err))
}
