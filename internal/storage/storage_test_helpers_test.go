package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mailpace/internal/model"
	"mailpace/internal/testutil"
)

func openStoreForTest(t *testing.T) *Store {
	t.Helper()
	ctx := testutil.Context(t, 5*time.Second)
	store, err := Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fixture struct {
	customer model.Customer
	list     model.MailList
	servers  []model.SendingServer
	campaign model.Campaign
}

func seedFixture(t *testing.T, store *Store, subscribers ...string) fixture {
	t.Helper()
	ctx := testutil.Context(t, 5*time.Second)
	plan, err := store.CreatePlan(ctx, model.Plan{
		Name: "basic", EmailMax: 1000, SendingQuota: 100, SendingQuotaTime: 1, SendingQuotaTimeUnit: "hour", MaxProcess: 2,
	})
	require.NoError(t, err)
	customer, err := store.CreateCustomer(ctx, model.Customer{
		Name: "acme",
		Subscription: &model.Subscription{
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Plan:      plan,
		},
	})
	require.NoError(t, err)
	list, err := store.CreateMailList(ctx, model.MailList{CustomerID: customer.ID, Name: "news", AllSendingServers: true})
	require.NoError(t, err)
	var servers []model.SendingServer
	for _, name := range []string{"alpha", "beta"} {
		server, err := store.CreateSendingServer(ctx, model.SendingServer{
			Name: name, QuotaValue: 10, QuotaBase: 1, QuotaUnit: "minute",
		})
		require.NoError(t, err)
		servers = append(servers, server)
	}
	for _, email := range subscribers {
		_, err := store.CreateSubscriber(ctx, model.Subscriber{MailListID: list.ID, Email: email})
		require.NoError(t, err)
	}
	campaign, err := store.CreateCampaign(ctx, model.Campaign{
		CustomerID: customer.ID, MailListID: list.ID, Name: "launch", Subject: "Hello",
	})
	require.NoError(t, err)
	return fixture{customer: customer, list: list, servers: servers, campaign: campaign}
}
