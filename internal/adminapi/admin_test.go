package adminapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/adminapi"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

type fakeResender struct {
	lastOrderID domain.OrderID
	eventID     int64
	err         error
}

func (f *fakeResender) Resend(_ context.Context, orderID domain.OrderID) (int64, error) {
	f.lastOrderID = orderID
	return f.eventID, f.err
}

type fakePoolingStatus struct{ pairs []adminapi.PairStatus }

func (f *fakePoolingStatus) Status() []adminapi.PairStatus { return f.pairs }

func newRequest() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/rpc", nil)
}

func TestResendWebhookParsesOrderIDAndDelegates(t *testing.T) {
	orderUUID := uuid.New()
	resender := &fakeResender{eventID: 42}
	admin := adminapi.New(resender, &fakePoolingStatus{})

	var reply adminapi.ResendWebhookReply
	err := admin.ResendWebhook(newRequest(), &adminapi.ResendWebhookArgs{OrderID: orderUUID.String()}, &reply)
	require.NoError(t, err)
	assert.Equal(t, int64(42), reply.WebhookEventID)
	assert.Equal(t, domain.OrderID(orderUUID), resender.lastOrderID)
}

func TestResendWebhookRejectsInvalidOrderID(t *testing.T) {
	admin := adminapi.New(&fakeResender{}, &fakePoolingStatus{})
	var reply adminapi.ResendWebhookReply
	err := admin.ResendWebhook(newRequest(), &adminapi.ResendWebhookArgs{OrderID: "not-a-uuid"}, &reply)
	assert.Error(t, err)
}

func TestPoolingStatusReportsProviderState(t *testing.T) {
	pairs := []adminapi.PairStatus{{Pair: domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}, Period: "30s", ActiveCount: 2}}
	admin := adminapi.New(&fakeResender{}, &fakePoolingStatus{pairs: pairs})

	var reply adminapi.PoolingStatusReply
	require.NoError(t, admin.PoolingStatus(newRequest(), &struct{}{}, &reply))
	assert.Equal(t, pairs, reply.Pairs)
}

func TestSetLogLevelAcceptsKnownLevels(t *testing.T) {
	admin := adminapi.New(&fakeResender{}, &fakePoolingStatus{})
	for _, lvl := range []string{"trace", "debug", "info", "warn", "error"} {
		err := admin.SetLogLevel(newRequest(), &adminapi.SetLogLevelArgs{Level: lvl}, &adminapi.EmptyReply{})
		assert.NoError(t, err, "level %s should be accepted", lvl)
	}
}

func TestSetLogLevelRejectsUnknownLevel(t *testing.T) {
	admin := adminapi.New(&fakeResender{}, &fakePoolingStatus{})
	err := admin.SetLogLevel(newRequest(), &adminapi.SetLogLevelArgs{Level: "deafening"}, &adminapi.EmptyReply{})
	assert.Error(t, err)
}
