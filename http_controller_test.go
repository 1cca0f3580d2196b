package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acebook/go-auth"
	"github.com/acebook/go-auth/popup"
	"github.com/acebook/go-auth/provider/memory"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testPlayer = &auth.UserIdentity{
	ID:          "player-1",
	Email:       "player@acebook.test",
	DisplayName: "Rafa",
}

type controllerFixture struct {
	controller *auth.HTTPController
	mirror     *auth.SessionMirror
	selector   *auth.ViewSelector
	broker     *popup.Broker
	notes      *auth.NotificationRecorder
}

func newControllerFixture(t *testing.T, source auth.ConfigSource, factory auth.ClientFactory, opts ...auth.HTTPControllerOption) *controllerFixture {
	t.Helper()

	mirror := auth.NewSessionMirror(source, factory, auth.WithMirrorLogger(quietLogger{}))
	t.Cleanup(mirror.Destroy)

	selector := auth.NewViewSelector(mirror, quietLogger{})
	t.Cleanup(selector.Unmount)

	notes := &auth.NotificationRecorder{}
	broker := popup.NewBroker(1)

	actionOpts := []auth.ActionOption{auth.WithActionLogger(quietLogger{}), auth.WithActionNotifier(notes)}
	opts = append([]auth.HTTPControllerOption{func(c *auth.HTTPController) *auth.HTTPController {
		c.Logger = quietLogger{}
		c.Selector = selector
		c.SignIn = auth.NewSignInHandler(mirror, actionOpts...)
		c.SignOut = auth.NewSignOutHandler(mirror, actionOpts...)
		c.Popups = broker
		c.Metrics = auth.NewMetrics(nil)
		return c
	}}, opts...)

	return &controllerFixture{
		controller: auth.NewHTTPController(opts...),
		mirror:     mirror,
		selector:   selector,
		broker:     broker,
		notes:      notes,
	}
}

// render runs Index and returns the rendered view and its data.
func (f *controllerFixture) render(t *testing.T) (string, router.ViewContext) {
	t.Helper()

	ctx := router.NewMockContext()
	var (
		view string
		data router.ViewContext
	)
	ctx.On("Render", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		view = args.String(0)
		var ok bool
		data, ok = args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")
	})

	require.NoError(t, f.controller.Index(ctx))
	ctx.AssertExpectations(t)
	return view, data
}

// redirectCtx returns a mock context that records the redirect target and
// accepts flash messages.
func redirectCtx(status int, target *string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	ctx.On("Cookie", mock.Anything).Return().Maybe()
	ctx.On("Locals", mock.Anything, mock.Anything).Return(nil).Maybe()
	ctx.On("Redirect", mock.Anything, []int{status}).Run(func(args mock.Arguments) {
		*target = args.String(0)
	}).Return(nil)
	return ctx
}

func jsonCtx(status int, payload *any) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background()).Maybe()
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		*payload = args.Get(1)
	}).Return(nil)
	return ctx
}

func TestNewHTTPController_RequiresCollaborators(t *testing.T) {
	assert.Panics(t, func() {
		auth.NewHTTPController()
	})
	assert.Panics(t, func() {
		auth.NewHTTPController(func(c *auth.HTTPController) *auth.HTTPController {
			c.Selector = auth.NewViewSelector(auth.NewSessionMirror(nil, nil), quietLogger{})
			return c
		})
	})
}

func TestHTTPController_RendersInitializingUntilMounted(t *testing.T) {
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory())

	view, data := f.render(t)
	assert.Equal(t, "initializing", view)
	assert.Equal(t, auth.PageTitle, data["title"])

	require.NoError(t, f.selector.Mount(context.Background()))

	view, data = f.render(t)
	assert.Equal(t, "login", view)
	assert.Empty(t, data["error"])
	assert.Equal(t, false, data["signing_in"])
}

func TestHTTPController_InitFailureShowsStaticError(t *testing.T) {
	f := newControllerFixture(t, staticSource(map[string]string{}), memory.NewFactory())

	require.Error(t, f.selector.Mount(context.Background()))

	view, data := f.render(t)
	assert.Equal(t, "login", view)
	assert.Contains(t, data["error"], "Failed to initialize authentication")
}

func TestHTTPController_IndexPassesFlash(t *testing.T) {
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory())
	require.NoError(t, f.selector.Mount(context.Background()))

	ctx := router.NewMockContext()
	ctx.LocalsMock[auth.FlashLocalsKey] = map[string]any{"title": "Signed out successfully"}

	var data router.ViewContext
	ctx.On("Render", "login", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		data = args.Get(1).(router.ViewContext)
	})

	require.NoError(t, f.controller.Index(ctx))
	assert.Equal(t, map[string]any{"title": "Signed out successfully"}, data["flash"])
}

func TestHTTPController_SignInAndSignOut(t *testing.T) {
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory(memory.WithDefaultUser(testPlayer)))
	require.NoError(t, f.selector.Mount(context.Background()))

	var target string
	ctx := redirectCtx(fiber.StatusSeeOther, &target)
	require.NoError(t, f.controller.LoginPost(ctx))
	assert.Equal(t, "/", target)
	ctx.AssertExpectations(t)

	view, data := f.render(t)
	assert.Equal(t, "secure", view)
	user, ok := data["user"].(*auth.UserIdentity)
	require.True(t, ok)
	assert.Equal(t, "Rafa", user.DisplayName)

	target = ""
	ctx = redirectCtx(fiber.StatusSeeOther, &target)
	require.NoError(t, f.controller.LogoutPost(ctx))
	assert.Equal(t, "/", target)
	assert.False(t, f.selector.State().IsLoggedIn)

	last, ok := f.notes.Last()
	require.True(t, ok)
	assert.Equal(t, auth.NotificationSuccess, last.Level)
	assert.Equal(t, "Signed out successfully", last.Title)

	view, _ = f.render(t)
	assert.Equal(t, "login", view)
}

func TestHTTPController_SignInFailureShownInline(t *testing.T) {
	factory := memory.NewFactory()
	f := newControllerFixture(t, staticSource(completeConfig()), factory)
	require.NoError(t, f.selector.Mount(context.Background()))

	factory.Last().Script(memory.Outcome{Err: errors.New("auth/popup-blocked")})

	var target string
	require.NoError(t, f.controller.LoginPost(redirectCtx(fiber.StatusSeeOther, &target)))
	assert.Equal(t, "/", target)

	view, data := f.render(t)
	assert.Equal(t, "login", view)
	assert.Equal(t, "auth/popup-blocked", data["error"])

	last, ok := f.notes.Last()
	require.True(t, ok)
	assert.Equal(t, "Failed to sign in", last.Title)
}

// popupClient routes sign in through the broker before completing it.
type popupClient struct {
	*memory.Client
	broker *popup.Broker
}

func (c *popupClient) SignInWithPopup(ctx context.Context, scopes ...string) (*auth.UserIdentity, error) {
	const state = "state-1"
	query, err := c.broker.Open(ctx, "https://accounts.acebook.test/o/oauth2/auth?state="+state, state)
	if err != nil {
		return nil, err
	}
	if query.Get("code") == "" {
		return nil, errors.New("missing code")
	}
	return c.Client.SignInWithPopup(ctx, scopes...)
}

func TestHTTPController_PopupRedirectFlow(t *testing.T) {
	var f *controllerFixture
	factory := auth.ClientFactoryFunc(func(_ context.Context, cfg auth.ProviderConfig) (auth.IdentityClient, error) {
		return &popupClient{
			Client: memory.NewClient(cfg.TenantID, memory.WithDefaultUser(testPlayer)),
			broker: f.broker,
		}, nil
	})
	f = newControllerFixture(t, staticSource(completeConfig()), factory)
	require.NoError(t, f.selector.Mount(context.Background()))

	var target string
	require.NoError(t, f.controller.LoginPost(redirectCtx(fiber.StatusFound, &target)))
	assert.True(t, strings.HasPrefix(target, "https://accounts.acebook.test/o/oauth2/auth"))
	assert.Equal(t, 1, f.broker.Pending())

	target = ""
	ctx := redirectCtx(fiber.StatusSeeOther, &target)
	ctx.QueriesM["state"] = "state-1"
	ctx.QueriesM["code"] = "abc"
	require.NoError(t, f.controller.Callback(ctx))
	assert.Equal(t, "/", target)

	assert.Equal(t, 0, f.broker.Pending())
	assert.True(t, f.selector.State().IsLoggedIn)

	view, _ := f.render(t)
	assert.Equal(t, "secure", view)
}

func TestHTTPController_CallbackWithUnknownState(t *testing.T) {
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory())
	require.NoError(t, f.selector.Mount(context.Background()))

	var target string
	ctx := redirectCtx(fiber.StatusSeeOther, &target)
	ctx.QueriesM["state"] = "stale"
	ctx.QueriesM["code"] = "abc"

	require.NoError(t, f.controller.Callback(ctx))
	assert.Equal(t, "/", target)
	assert.False(t, f.selector.State().IsLoggedIn)
}

// blockingClient holds every popup sign in until released.
type blockingClient struct {
	*memory.Client
	release chan struct{}
	calls   atomic.Int32
}

func (c *blockingClient) SignInWithPopup(ctx context.Context, scopes ...string) (*auth.UserIdentity, error) {
	c.calls.Add(1)
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.Client.SignInWithPopup(ctx, scopes...)
}

func newBlockingFixture(t *testing.T) (*controllerFixture, *blockingClient) {
	t.Helper()

	client := &blockingClient{
		Client:  memory.NewClient("t", memory.WithDefaultUser(testPlayer)),
		release: make(chan struct{}),
	}
	factory := auth.ClientFactoryFunc(func(context.Context, auth.ProviderConfig) (auth.IdentityClient, error) {
		return client, nil
	})
	f := newControllerFixture(t, staticSource(completeConfig()), factory, func(c *auth.HTTPController) *auth.HTTPController {
		c.Popups = nil
		c.LaunchWait = 10 * time.Millisecond
		return c
	})
	require.NoError(t, f.selector.Mount(context.Background()))
	return f, client
}

func TestHTTPController_SecondLoginPostWhileSigningIn(t *testing.T) {
	f, client := newBlockingFixture(t)

	var target string
	require.NoError(t, f.controller.LoginPost(redirectCtx(fiber.StatusSeeOther, &target)))
	assert.Equal(t, "/", target)
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	target = ""
	require.NoError(t, f.controller.LoginPost(redirectCtx(fiber.StatusSeeOther, &target)))
	assert.Equal(t, "/", target)

	_, data := f.render(t)
	assert.Empty(t, data["error"])
	assert.Equal(t, true, data["signing_in"])

	close(client.release)
	require.Eventually(t, func() bool { return f.selector.State().IsLoggedIn }, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), client.calls.Load())
	_, data = f.render(t)
	assert.Empty(t, data["error"])
}

func TestHTTPController_LoginPostWhileHandlerBusyKeepsError(t *testing.T) {
	f, client := newBlockingFixture(t)

	done := make(chan error, 1)
	go func() {
		done <- f.controller.SignIn.Execute(context.Background(), auth.SignInMessage{})
	}()
	require.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	var target string
	require.NoError(t, f.controller.LoginPost(redirectCtx(fiber.StatusSeeOther, &target)))
	assert.Equal(t, "/", target)

	_, data := f.render(t)
	assert.Empty(t, data["error"])

	close(client.release)
	require.NoError(t, <-done)
	assert.True(t, f.selector.State().IsLoggedIn)
	assert.Empty(t, f.notes.Notifications())
}

func TestHTTPController_State(t *testing.T) {
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory(memory.WithCurrentUser(testPlayer)))
	require.NoError(t, f.selector.Mount(context.Background()))

	var payload any
	ctx := jsonCtx(router.StatusOK, &payload)
	require.NoError(t, f.controller.State(ctx))

	body, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, auth.ViewSecure, body["view"])
	assert.Empty(t, body["error"])

	state, ok := body["state"].(auth.AuthState)
	require.True(t, ok)
	assert.True(t, state.IsInitialized)
	assert.True(t, state.IsLoggedIn)
	require.NotNil(t, state.User)
	assert.Equal(t, "player-1", state.User.ID)
}

// stubFeed serves canned activity and remembers the last query.
type stubFeed struct {
	events   []auth.ActivityEvent
	err      error
	tenantID string
	limit    int
}

func (s *stubFeed) Recent(_ context.Context, tenantID string, limit int) ([]auth.ActivityEvent, error) {
	s.tenantID = tenantID
	s.limit = limit
	return s.events, s.err
}

func TestHTTPController_ActivityList(t *testing.T) {
	feed := &stubFeed{events: []auth.ActivityEvent{{EventType: auth.ActivityEventSignInSuccess, UserID: "player-1"}}}
	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory(memory.WithCurrentUser(testPlayer)),
		func(c *auth.HTTPController) *auth.HTTPController {
			c.Activity = feed
			return c
		})

	var payload any
	require.NoError(t, f.controller.ActivityList(jsonCtx(router.StatusUnauthorized, &payload)))

	require.NoError(t, f.selector.Mount(context.Background()))

	ctx := jsonCtx(router.StatusOK, &payload)
	ctx.QueriesM["limit"] = "5"
	require.NoError(t, f.controller.ActivityList(ctx))
	assert.Equal(t, "t", feed.tenantID)
	assert.Equal(t, 5, feed.limit)
	assert.Equal(t, map[string]any{"events": feed.events}, payload)

	ctx = jsonCtx(router.StatusBadRequest, &payload)
	ctx.QueriesM["limit"] = "-1"
	require.NoError(t, f.controller.ActivityList(ctx))

	feed.err = errors.New("db closed")
	require.NoError(t, f.controller.ActivityList(jsonCtx(fiber.StatusInternalServerError, &payload)))
}

func TestHTTPController_CallProxiesWithIDToken(t *testing.T) {
	var authorization atomic.Value
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/bookings" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[{"court":1}]`))
	}))
	defer api.Close()

	f := newControllerFixture(t, staticSource(completeConfig()), memory.NewFactory())
	f.controller.API = auth.NewAPIClient(f.mirror, auth.WithAPIHTTPClient(api.Client()), auth.WithAPILogger(quietLogger{}))
	f.controller.APIBaseURL = api.URL + "/"
	require.NoError(t, f.selector.Mount(context.Background()))

	var payload any
	ctx := jsonCtx(router.StatusUnauthorized, &payload)
	ctx.QueriesM["path"] = "/bookings"
	require.NoError(t, f.controller.Call(ctx))

	f.mirror.Client().(*memory.Client).Emit(testPlayer)

	ctx = jsonCtx(router.StatusOK, &payload)
	ctx.QueriesM["path"] = "/bookings"
	require.NoError(t, f.controller.Call(ctx))
	assert.Equal(t, map[string]string{"body": `[{"court":1}]`}, payload)
	assert.True(t, strings.HasPrefix(authorization.Load().(string), "Bearer "))

	ctx = jsonCtx(fiber.StatusBadGateway, &payload)
	ctx.QueriesM["path"] = "/missing"
	require.NoError(t, f.controller.Call(ctx))
	assert.Equal(t, http.StatusNotFound, payload.(map[string]any)["status"])

	for _, path := range []string{"", "bookings", "//evil.test/x"} {
		ctx = jsonCtx(router.StatusBadRequest, &payload)
		ctx.QueriesM["path"] = path
		require.NoError(t, f.controller.Call(ctx))
	}
}
