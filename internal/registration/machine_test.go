package registration

//go:generate mockgen -source=machine.go -destination=mocks/mocks.go -package=mocks Exchanger,SessionEstablisher,SecondaryLinker,ProfileEnricher,FlowStore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/sosi/kosningakerfi/internal/crypto"
	"github.com/sosi/kosningakerfi/internal/domain"
	apperrors "github.com/sosi/kosningakerfi/internal/errors"
	"github.com/sosi/kosningakerfi/internal/flowstore"
	"github.com/sosi/kosningakerfi/internal/linking"
	"github.com/sosi/kosningakerfi/internal/pkce"
	"github.com/sosi/kosningakerfi/internal/registration/mocks"
)

var kenni = ProviderConfig{
	AuthURL:     "https://idp.kenni.test/oauth/authorize",
	ClientID:    "kosningakerfi",
	RedirectURI: "http://portal.test/auth/callback",
	Scopes:      []string{"openid", "profile", "national_id"},
}

type MachineSuite struct {
	suite.Suite
	ctx       context.Context
	ctrl      *gomock.Controller
	exchanger *mocks.MockExchanger
	sessions  *mocks.MockSessionEstablisher
	linker    *mocks.MockSecondaryLinker
	enricher  *mocks.MockProfileEnricher
	store     *flowstore.Memory
	states    *crypto.StateSigner
	machine   *Machine

	session *domain.Session
	profile *domain.LinkedCredentialInfo
}

func TestMachineSuite(t *testing.T) {
	suite.Run(t, new(MachineSuite))
}

func (s *MachineSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.exchanger = mocks.NewMockExchanger(s.ctrl)
	s.sessions = mocks.NewMockSessionEstablisher(s.ctrl)
	s.linker = mocks.NewMockSecondaryLinker(s.ctrl)
	s.enricher = mocks.NewMockProfileEnricher(s.ctrl)
	s.store = flowstore.NewMemory()
	s.states = crypto.NewStateSigner([]byte("0123456789abcdef0123456789abcdef"))
	s.machine = s.newMachine(s.store)

	s.session = &domain.Session{ID: "session-U", UserID: "0101302989"}
	s.profile = &domain.LinkedCredentialInfo{
		Provider: domain.ProviderGoogle,
		Subject:  "google-sub-1",
		Email:    "jon@example.is",
		PhotoURL: "https://example.is/jon.png",
	}
}

func (s *MachineSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *MachineSuite) newMachine(store FlowStore) *Machine {
	return NewMachine("flow-1", Deps{
		Exchanger: s.exchanger,
		Sessions:  s.sessions,
		Linker:    s.linker,
		Enricher:  s.enricher,
		Store:     store,
		States:    s.states,
	}, kenni, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

// begin starts the flow and returns the PKCE challenge sent to Kenni.is.
func (s *MachineSuite) begin() string {
	authURL, err := s.machine.Begin(s.ctx)
	s.Require().NoError(err)
	u, err := url.Parse(authURL)
	s.Require().NoError(err)
	return u.Query().Get("code_challenge")
}

func (s *MachineSuite) verifierStored() bool {
	v, ok, err := s.store.Take(s.ctx, "flow-1", KeyVerifier)
	s.Require().NoError(err)
	if ok {
		s.Require().NoError(s.store.Put(s.ctx, "flow-1", KeyVerifier, v, time.Minute))
	}
	return ok
}

func (s *MachineSuite) expectSignedIn() {
	s.exchanger.EXPECT().Exchange(gomock.Any(), "abc123", gomock.Any()).
		Return(domain.SessionCredential{Token: "tok-xyz"}, nil)
	s.sessions.EXPECT().SignInWithCustomToken(gomock.Any(), domain.SessionCredential{Token: "tok-xyz"}, gomock.Any()).
		Return(s.session, nil)
}

func (s *MachineSuite) requireFailed(reason Reason, action Action) State {
	st := s.machine.State()
	s.Require().Equal(StepFailed, st.Step)
	s.Require().NotNil(st.Failure)
	s.Equal(reason, st.Failure.Reason)
	s.Equal(action, st.Failure.Action)
	s.Equal(st.Failure.Message, st.Message)
	s.False(s.verifierStored(), "flow data must be cleared on failure")
	return st
}

func (s *MachineSuite) TestBeginBuildsAuthorizationURL() {
	authURL, err := s.machine.Begin(s.ctx)
	s.Require().NoError(err)

	u, err := url.Parse(authURL)
	s.Require().NoError(err)
	s.Equal("idp.kenni.test", u.Host)

	q := u.Query()
	s.Equal("kosningakerfi", q.Get("client_id"))
	s.Equal("http://portal.test/auth/callback", q.Get("redirect_uri"))
	s.Equal("code", q.Get("response_type"))
	s.Equal("openid profile national_id", q.Get("scope"))
	s.Equal("S256", q.Get("code_challenge_method"))
	s.Len(q.Get("code_challenge"), 43)

	flowID, err := s.states.Verify(q.Get("state"))
	s.Require().NoError(err)
	s.Equal("flow-1", flowID)

	s.Equal(StepAwaitingProviderRedirect, s.machine.State().Step)
	s.True(s.verifierStored())

	_, err = s.machine.Begin(s.ctx)
	s.True(apperrors.IsCode(err, apperrors.CodeConflict))
}

func (s *MachineSuite) TestHappyPath() {
	challenge := s.begin()

	gomock.InOrder(
		s.exchanger.EXPECT().Exchange(gomock.Any(), "abc123", gomock.Any()).
			DoAndReturn(func(ctx context.Context, code, verifier string) (domain.SessionCredential, error) {
				s.True(pkce.Verify(verifier, challenge), "exchange must receive the stored verifier")
				return domain.SessionCredential{Token: "tok-xyz"}, nil
			}),
		s.sessions.EXPECT().SignInWithCustomToken(gomock.Any(), domain.SessionCredential{Token: "tok-xyz"}, gomock.Any()).
			Return(s.session, nil),
		s.linker.EXPECT().LinkSecondary(gomock.Any(), s.session, domain.ProviderGoogle).
			Return(s.profile, nil),
		s.enricher.EXPECT().EnrichProfile(gomock.Any(), s.session, s.profile).
			Return(nil),
	)

	s.True(s.machine.Resume(s.ctx, Callback{Code: "abc123"}))

	st := s.machine.State()
	s.Equal(StepComplete, st.Step)
	s.Nil(st.Failure)
	s.Equal("session-U", st.SessionID)
	s.Equal(s.profile, st.Linked)
	s.False(s.verifierStored(), "verifier must be absent after completion")
}

func (s *MachineSuite) TestResumeRunsOnce() {
	s.begin()

	s.exchanger.EXPECT().Exchange(gomock.Any(), "abc123", gomock.Any()).
		DoAndReturn(func(ctx context.Context, code, verifier string) (domain.SessionCredential, error) {
			time.Sleep(20 * time.Millisecond)
			return domain.SessionCredential{Token: "tok-xyz"}, nil
		}).Times(1)
	s.sessions.EXPECT().SignInWithCustomToken(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.session, nil).Times(1)
	s.linker.EXPECT().LinkSecondary(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.profile, nil).Times(1)
	s.enricher.EXPECT().EnrichProfile(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	var wg sync.WaitGroup
	ran := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ran <- s.machine.Resume(s.ctx, Callback{Code: "abc123"})
		}()
	}
	wg.Wait()
	close(ran)

	runs := 0
	for r := range ran {
		if r {
			runs++
		}
	}
	s.Equal(1, runs)

	st, err := s.machine.Wait(s.ctx, StepLinkingSecondary)
	s.Require().NoError(err)
	s.Equal(StepComplete, st.Step)
	s.False(s.machine.Resume(s.ctx, Callback{Code: "abc123"}))
}

func (s *MachineSuite) TestMissingVerifier() {
	// Nothing stored: no Begin in this mount and no shared data.
	s.True(s.machine.Resume(s.ctx, Callback{Code: "abc123"}))

	st := s.requireFailed(ReasonMissingFlowData, ActionRestartFlow)
	s.Contains(st.Message, "start again")
}

func (s *MachineSuite) TestMissingCode() {
	s.begin()

	s.machine.Resume(s.ctx, Callback{})

	s.requireFailed(ReasonMissingFlowData, ActionRestartFlow)
}

func (s *MachineSuite) TestUnreadableFlowData() {
	store := mocks.NewMockFlowStore(s.ctrl)
	s.machine = s.newMachine(store)

	store.EXPECT().Take(gomock.Any(), "flow-1", KeyVerifier).Return("", false, errors.New("redis: connection refused"))
	store.EXPECT().Clear(gomock.Any(), "flow-1").Return(nil)

	s.machine.Resume(s.ctx, Callback{Code: "abc123"})

	st := s.machine.State()
	s.Equal(StepFailed, st.Step)
	s.Equal(ReasonMissingFlowData, st.Failure.Reason)
}

func (s *MachineSuite) TestExchangeFailureKeepsBackendMessage() {
	s.begin()
	s.exchanger.EXPECT().Exchange(gomock.Any(), "abc123", gomock.Any()).
		Return(domain.SessionCredential{}, apperrors.UpstreamStatus(400, "Invalid authorization code"))

	s.machine.Resume(s.ctx, Callback{Code: "abc123"})

	st := s.requireFailed(ReasonExchange, ActionRestartFlow)
	s.Equal("Invalid authorization code", st.Failure.Detail)
}

func (s *MachineSuite) TestExchangeTimeout() {
	s.begin()
	s.exchanger.EXPECT().Exchange(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(domain.SessionCredential{}, apperrors.Timeout("backend", context.DeadlineExceeded))

	s.machine.Resume(s.ctx, Callback{Code: "abc123"})

	st := s.requireFailed(ReasonExchange, ActionRestartFlow)
	s.Equal("backend did not respond in time", st.Failure.Detail)
}

func (s *MachineSuite) TestSessionEstablishmentIsDistinct() {
	s.begin()
	s.exchanger.EXPECT().Exchange(gomock.Any(), "abc123", gomock.Any()).
		Return(domain.SessionCredential{Token: "tok-xyz"}, nil)
	s.sessions.EXPECT().SignInWithCustomToken(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperrors.New(apperrors.CodeTokenInvalid, "token verification failed"))

	s.machine.Resume(s.ctx, Callback{Code: "abc123"})

	st := s.requireFailed(ReasonSessionEstablishment, ActionRestartFlow)
	s.NotEqual(failures[ReasonExchange].message, st.Message)
}

func (s *MachineSuite) TestLinkFailures() {
	tests := []struct {
		kind   linking.Kind
		reason Reason
		action Action
		text   string
	}{
		{linking.KindAlreadyLinked, ReasonAlreadyLinked, ActionSwitchFlow, "Sign in instead"},
		{linking.KindUserCancelled, ReasonLinkCancelled, ActionRestartFlow, "cancelled"},
		{linking.KindOther, ReasonLinkFailed, ActionRestartFlow, "failed"},
	}

	for _, tt := range tests {
		s.Run(tt.kind.String(), func() {
			s.SetupTest()
			s.begin()
			s.expectSignedIn()
			s.linker.EXPECT().LinkSecondary(gomock.Any(), s.session, domain.ProviderGoogle).
				Return(nil, &linking.Failure{Kind: tt.kind, Provider: domain.ProviderGoogle, Err: errors.New("popup said no")})
			s.sessions.EXPECT().SignOut(gomock.Any(), "session-U").Return(nil)

			s.machine.Resume(s.ctx, Callback{Code: "abc123"})

			st := s.requireFailed(tt.reason, tt.action)
			s.Contains(st.Message, tt.text)
			s.Empty(st.SessionID, "a failed registration must not keep its session")
		})
	}
}

func (s *MachineSuite) TestLinkFailureMessagesDiffer() {
	seen := map[string]Reason{}
	for reason, c := range failures {
		if prev, dup := seen[c.message]; dup {
			s.Failf("duplicate message", "%q and %q share a message", prev, reason)
		}
		seen[c.message] = reason
	}
}

func (s *MachineSuite) TestEnrichmentFailureStillCompletes() {
	s.begin()
	s.expectSignedIn()
	s.linker.EXPECT().LinkSecondary(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.profile, nil)
	s.enricher.EXPECT().EnrichProfile(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(apperrors.Unavailable("backend", errors.New("connection refused")))

	s.machine.Resume(s.ctx, Callback{Code: "abc123"})

	st := s.machine.State()
	s.Equal(StepComplete, st.Step)
	s.False(s.verifierStored())
}

func (s *MachineSuite) TestWaitHonoursContext() {
	s.begin()

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	st, err := s.machine.Wait(ctx, StepAwaitingProviderRedirect)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(StepAwaitingProviderRedirect, st.Step)
}
