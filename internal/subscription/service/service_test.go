package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"newsletter/internal/outbox"
	"newsletter/internal/platform/metrics"
	"newsletter/internal/subscription/models"
	"newsletter/internal/subscription/service/mocks"
	"newsletter/internal/subscription/store"
	dErrors "newsletter/pkg/domain-errors"
	"newsletter/pkg/platform/sentinel"
	"newsletter/pkg/requestcontext"
)

const testToken = "AbCdEfGhIjKlMnOpQrStUvWxY"

// passthroughTx runs fn directly; commit/rollback semantics are covered by
// the store package.
type passthroughTx struct {
	calls int
}

func (t *passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type ServiceSuite struct {
	suite.Suite
	ctrl         *gomock.Controller
	mockStore    *mocks.MockStore
	mockNotifier *mocks.MockNotifier
	mockEvents   *mocks.MockEventRecorder
	tx           *passthroughTx
	metrics      *metrics.Metrics
	service      *Service
	now          time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockNotifier = mocks.NewMockNotifier(s.ctrl)
	s.mockEvents = mocks.NewMockEventRecorder(s.ctrl)
	s.tx = &passthroughTx{}
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	s.service = New(s.mockStore, s.tx, s.mockNotifier, "http://127.0.0.1:8000/",
		WithEvents(s.mockEvents),
		WithMetrics(s.metrics),
		WithTokenGenerator(func() string { return testToken }),
	)
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) TestCreate() {
	s.Run("stores a pending subscriber and token then sends the link", func() {
		var stored *models.Subscriber
		gomock.InOrder(
			s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, sub *models.Subscriber) error {
					stored = sub
					return nil
				}),
			s.mockStore.EXPECT().InsertToken(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, tok models.SubscriptionToken) error {
					s.Equal(testToken, tok.Token)
					s.Equal(stored.ID, tok.SubscriberID)
					return nil
				}),
			s.mockEvents.EXPECT().Append(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, event outbox.Event) error {
					s.Equal(EventSubscriptionCreated, event.Type)
					s.Equal(stored.ID, event.AggregateID)
					s.Contains(string(event.Payload), `"status":"pending_confirmation"`)
					return nil
				}),
		)
		link := "http://127.0.0.1:8000/subscriptions/confirm?subscription_token=" + testToken
		s.mockNotifier.EXPECT().Send(gomock.Any(), gomock.Any(), "Welcome!", gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, to models.SubscriberEmail, _, html, text string) error {
				s.Equal("ursula_le_guin@gmail.com", to.String())
				s.Equal(`Welcome to our newsletter!<br />Click <a href="`+link+`">here</a> to confirm your subscription.`, html)
				s.Equal("Welcome to our newsletter!\nVisit "+link+" to confirm your subscription.", text)
				return nil
			})

		err := s.service.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com")
		s.Require().NoError(err)

		s.Require().NotNil(stored)
		s.NotEqual(uuid.Nil, stored.ID)
		s.Equal(models.StatusPendingConfirmation, stored.Status)
		s.Equal("le guin", stored.Name.String())
		s.Equal(time.UTC, stored.SubscribedAt.Location())
		s.True(stored.SubscribedAt.Equal(s.now))
		s.Equal(1, s.tx.calls)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionsCreated))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.ConfirmationEmailsSent))
	})

	s.Run("invalid input is rejected before touching the store", func() {
		cases := []struct{ name, email string }{
			{"", "ursula_le_guin@gmail.com"},
			{"le guin", ""},
			{"Ursula", "definitely-not-an-email"},
			{"{evil}", "ursula_le_guin@gmail.com"},
			{strings.Repeat("a", 257), "ursula_le_guin@gmail.com"},
		}
		for _, c := range cases {
			err := s.service.Create(s.ctx(), c.name, c.email)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), "name=%q email=%q", c.name, c.email)
		}
		s.Equal(float64(len(cases)), testutil.ToFloat64(s.metrics.SubscriptionFailures.WithLabelValues(metrics.ReasonValidation)))
	})

	s.Run("duplicate email returns conflict and sends nothing", func() {
		s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)

		err := s.service.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("email is already subscribed", dErrors.Describe(err))
	})

	s.Run("token insert failure is internal and sends nothing", func() {
		s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).Return(nil)
		s.mockStore.EXPECT().InsertToken(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

		err := s.service.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionFailures.WithLabelValues(metrics.ReasonPersistence)))
	})

	s.Run("outbox failure aborts the transaction", func() {
		s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).Return(nil)
		s.mockStore.EXPECT().InsertToken(gomock.Any(), gomock.Any()).Return(nil)
		s.mockEvents.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("outbox down"))

		err := s.service.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("delivery failure after commit is reported as delivery failure", func() {
		s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).Return(nil)
		s.mockStore.EXPECT().InsertToken(gomock.Any(), gomock.Any()).Return(nil)
		s.mockEvents.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil)
		s.mockNotifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("smtp 421"))

		err := s.service.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDeliveryFailed))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionFailures.WithLabelValues(metrics.ReasonDelivery)))
	})
}

func (s *ServiceSuite) TestTransactionTimeout() {
	s.Run("create surfaces a deadline hit inside the transaction", func() {
		svc := New(s.mockStore, store.NewMemoryTx(), s.mockNotifier, "http://127.0.0.1:8000/",
			WithMetrics(s.metrics),
			WithTokenGenerator(func() string { return testToken }),
		)
		ctx, cancel := context.WithTimeout(s.ctx(), 20*time.Millisecond)
		defer cancel()
		s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _ *models.Subscriber) error {
				<-ctx.Done()
				return fmt.Errorf("insert subscriber: %w", ctx.Err())
			})

		err := svc.Create(ctx, "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.Equal(dErrors.CodeTimeout, dErrors.CodeOf(err))
		s.Equal(http.StatusGatewayTimeout, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionFailures.WithLabelValues(metrics.ReasonTimeout)))
		s.Equal(0.0, testutil.ToFloat64(s.metrics.SubscriptionFailures.WithLabelValues(metrics.ReasonPersistence)))
	})

	s.Run("create with a cancelled context never reaches the store", func() {
		svc := New(s.mockStore, store.NewMemoryTx(), s.mockNotifier, "http://127.0.0.1:8000/")
		ctx, cancel := context.WithCancel(s.ctx())
		cancel()

		err := svc.Create(ctx, "le guin", "ursula_le_guin@gmail.com")
		s.Require().Error(err)
		s.Equal(dErrors.CodeTimeout, dErrors.CodeOf(err))
	})

	s.Run("confirm with a cancelled context is a timeout", func() {
		svc := New(s.mockStore, store.NewMemoryTx(), s.mockNotifier, "http://127.0.0.1:8000/")
		ctx, cancel := context.WithCancel(s.ctx())
		cancel()

		err := svc.Confirm(ctx, testToken)
		s.Require().Error(err)
		s.Equal(dErrors.CodeTimeout, dErrors.CodeOf(err))
		s.Equal(http.StatusGatewayTimeout, dErrors.ToHTTPStatus(dErrors.CodeOf(err)))
	})

	s.Run("confirm passes through a timeout coded by the transaction", func() {
		svc := New(s.mockStore, timeoutTx{}, s.mockNotifier, "http://127.0.0.1:8000/")

		err := svc.Confirm(s.ctx(), testToken)
		s.Require().Error(err)
		s.Equal(dErrors.CodeTimeout, dErrors.CodeOf(err))
		s.ErrorIs(err, context.DeadlineExceeded)
	})
}

// timeoutTx fails the way a transaction does when its deadline passes.
type timeoutTx struct{}

func (timeoutTx) RunInTx(context.Context, func(ctx context.Context) error) error {
	return dErrors.Wrap(context.DeadlineExceeded, dErrors.CodeTimeout, "transaction aborted: context cancelled")
}

func (s *ServiceSuite) TestCreateWithoutEventRecorder() {
	svc := New(s.mockStore, s.tx, s.mockNotifier, "https://news.example.com",
		WithTokenGenerator(func() string { return testToken }))

	s.mockStore.EXPECT().InsertSubscriber(gomock.Any(), gomock.Any()).Return(nil)
	s.mockStore.EXPECT().InsertToken(gomock.Any(), gomock.Any()).Return(nil)
	s.mockNotifier.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	s.Require().NoError(svc.Create(s.ctx(), "le guin", "ursula_le_guin@gmail.com"))
}

func (s *ServiceSuite) TestConfirm() {
	subscriberID := uuid.New()

	s.Run("confirms the subscriber and records an event", func() {
		s.mockStore.EXPECT().FindToken(gomock.Any(), testToken).
			Return(&models.SubscriptionToken{Token: testToken, SubscriberID: subscriberID}, nil)
		s.mockStore.EXPECT().ConfirmSubscriber(gomock.Any(), subscriberID).Return(true, nil)
		s.mockEvents.EXPECT().Append(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, event outbox.Event) error {
				s.Equal(EventSubscriptionConfirmed, event.Type)
				s.Equal(subscriberID, event.AggregateID)
				return nil
			})

		s.Require().NoError(s.service.Confirm(s.ctx(), testToken))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionsConfirmed))
	})

	s.Run("re-confirming is a successful no-op", func() {
		s.mockStore.EXPECT().FindToken(gomock.Any(), testToken).
			Return(&models.SubscriptionToken{Token: testToken, SubscriberID: subscriberID}, nil)
		s.mockStore.EXPECT().ConfirmSubscriber(gomock.Any(), subscriberID).Return(false, nil)

		s.Require().NoError(s.service.Confirm(s.ctx(), testToken))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SubscriptionsConfirmed))
	})

	s.Run("blank token is a bad request", func() {
		for _, tok := range []string{"", "   "} {
			err := s.service.Confirm(s.ctx(), tok)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		}
	})

	s.Run("malformed token is not found without a lookup", func() {
		err := s.service.Confirm(s.ctx(), "short")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown token is not found", func() {
		s.mockStore.EXPECT().FindToken(gomock.Any(), testToken).Return(nil, sentinel.ErrNotFound)

		err := s.service.Confirm(s.ctx(), testToken)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("store failure is internal", func() {
		s.mockStore.EXPECT().FindToken(gomock.Any(), testToken).
			Return(&models.SubscriptionToken{Token: testToken, SubscriberID: subscriberID}, nil)
		s.mockStore.EXPECT().ConfirmSubscriber(gomock.Any(), subscriberID).Return(false, errors.New("deadlock"))

		err := s.service.Confirm(s.ctx(), testToken)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
