package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiergate/internal/providers"
	"tiergate/internal/providers/sandbox"
	"tiergate/internal/provisioning/models"
	"tiergate/internal/provisioning/service"
	"tiergate/internal/provisioning/store"
	"tiergate/pkg/platform/audit"
	"tiergate/pkg/platform/audit/publisher"
	auditmemory "tiergate/pkg/platform/audit/store/memory"
	"tiergate/pkg/platform/retry"
	tu "tiergate/pkg/testutil"
)

// Drives the saga through the sandbox providers and the same resilience
// wrapper the server uses.
func TestSignup_ExchangeTimeoutThenRetryWithSameEmail(t *testing.T) {
	ctx := context.Background()
	fast := retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	identity := sandbox.NewIdentity()
	exchange := sandbox.NewExchange()
	audits := auditmemory.NewInMemoryStore()
	txns := store.NewInMemory()

	svc, err := service.New(
		providers.NewResilientIdentity(identity, providers.WithTimeout(50*time.Millisecond), providers.WithRetryPolicy(fast)),
		providers.NewResilientExchange(exchange, providers.WithTimeout(20*time.Millisecond), providers.WithRetryPolicy(fast)),
		txns,
		service.WithAuditPublisher(publisher.NewPublisher(audits)),
		service.WithCompensationPolicy(fast),
	)
	require.NoError(t, err)

	req := models.SignupRequest{
		Email:   "satoshi@example.com",
		Profile: providers.Profile{FirstName: "Satoshi", LastName: "Nakamoto", Country: "JP"},
	}

	// Every attempt of the exchange call hangs past its deadline.
	exchange.Hang(sandbox.OpCreateSubAccount, int(fast.MaxRetries)+1)

	_, err = svc.Signup(ctx, req)
	var failed *models.SignupFailed
	require.True(t, errors.As(err, &failed), "got %v", err)
	assert.Equal(t, models.StepExchange, failed.Step)
	assert.Equal(t, models.ReasonProviderUnavailable, failed.Reason)

	assert.Zero(t, identity.Count(), "identity account was compensated")
	assert.Equal(t, 1, identity.Deletes())

	rolledBack := audits.ListByAction(ctx, audit.EventAccountRolledBack)
	require.Len(t, rolledBack, 1)
	firstIdentity := rolledBack[0].UserID.String()

	pending, err := txns.ListPending(ctx, time.Now().Add(time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "no transaction left pending")

	res, err := svc.Signup(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, firstIdentity, res.IdentityID, "retry yields a fresh identity id")
	assert.True(t, identity.Exists(res.IdentityID))

	sub, ok := exchange.SubAccountOf(res.IdentityID)
	require.True(t, ok)
	assert.Equal(t, sub, res.ExchangeAccountID)
}

func TestSignup_DuplicateEmailPersistsNothing(t *testing.T) {
	ctx := context.Background()
	identity := sandbox.NewIdentity()
	txns := store.NewInMemory()
	svc, err := service.New(identity, sandbox.NewExchange(), txns)
	require.NoError(t, err)

	req := models.SignupRequest{
		Email:   "hal@example.com",
		Profile: providers.Profile{FirstName: "Hal", LastName: "Finney", Country: "US"},
	}

	tu.Given(t, "an email that already completed signup", func(t *testing.T) {
		_, err := svc.Signup(ctx, req)
		require.NoError(t, err)

		tu.When(t, "the same email signs up again", func(t *testing.T) {
			_, err := svc.Signup(ctx, req)

			tu.Then(t, "the identity step fails and nothing new is persisted", func(t *testing.T) {
				var failed *models.SignupFailed
				require.ErrorAs(t, err, &failed)
				assert.Equal(t, models.StepIdentity, failed.Step)
				assert.Equal(t, models.ReasonDuplicateEmail, failed.Reason)
				assert.Equal(t, 1, identity.Count())

				pending, err := txns.ListPending(ctx, time.Now().Add(time.Hour), 0)
				require.NoError(t, err)
				assert.Empty(t, pending)
			})
		})
	})
}
