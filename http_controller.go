package auth

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/acebook/go-auth/popup"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// PageTitle is the document title of every page.
const PageTitle = "Ace book"

// FlashLocalsKey is where the flash middleware exposes the previous
// request's flash data to the views.
const FlashLocalsKey = "flash"

const defaultActivityLimit = 20

// callbackQueryKeys are forwarded from the provider redirect to the popup.
var callbackQueryKeys = []string{"state", "code", "scope", "error", "error_description"}

// PopupBroker hands provider popups to the browser and routes the provider
// redirect back to the waiting sign in.
type PopupBroker interface {
	Launches() <-chan popup.Launch
	Deliver(query url.Values) error
}

type HTTPControllerRoutes struct {
	Index    string
	Login    string
	Logout   string
	Callback string
	State    string
	Activity string
	Call     string
}

type HTTPControllerViews struct {
	Initializing string
	Login        string
	Secure       string
}

// HTTPController renders the view picked by the ViewSelector and turns form
// posts into sign in and sign out actions. Action feedback is handed to the
// next page as a flash message.
type HTTPController struct {
	Logger   Logger
	Selector *ViewSelector
	SignIn   *SignInHandler
	SignOut  *SignOutHandler
	Popups   PopupBroker
	Metrics  *Metrics
	Activity ActivityFeed
	API      *APIClient
	// APIBaseURL prefixes the path of proxied API calls.
	APIBaseURL string
	Routes     *HTTPControllerRoutes
	Views      *HTTPControllerViews

	// LaunchWait bounds how long POST login waits for the popup URL.
	LaunchWait time.Duration
	// CallbackWait bounds how long the provider redirect waits for the
	// sign in to finish before going back to the index.
	CallbackWait time.Duration

	mu          sync.Mutex
	attempt     *signInAttempt
	signInError string
}

type HTTPControllerOption func(*HTTPController) *HTTPController

// signInAttempt is one sign in started from POST login.
type signInAttempt struct {
	done  chan struct{}
	notes *NotificationRecorder
	err   error
}

func newSignInAttempt() *signInAttempt {
	return &signInAttempt{
		done:  make(chan struct{}),
		notes: &NotificationRecorder{},
	}
}

func (a *signInAttempt) finish(err error) {
	a.err = err
	close(a.done)
}

func (a *signInAttempt) finished() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// RegisterSessionRoutes builds a controller from opts and mounts its routes.
// The activity and API call routes are only mounted when their collaborators
// are set.
func RegisterSessionRoutes[T any](app router.Router[T], opts ...HTTPControllerOption) *HTTPController {
	controller := NewHTTPController(opts...)

	app.Get(controller.Routes.Index, controller.Index).
		SetName("session.index")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("session.sign-in.post")
	app.Get(controller.Routes.Callback, controller.Callback).
		SetName("session.callback")
	app.Post(controller.Routes.Logout, controller.LogoutPost).
		SetName("session.sign-out.post")
	app.Get(controller.Routes.State, controller.State).
		SetName("session.state")

	if controller.Activity != nil {
		app.Get(controller.Routes.Activity, controller.ActivityList).
			SetName("session.activity")
	}

	if controller.API != nil && controller.APIBaseURL != "" {
		app.Get(controller.Routes.Call, controller.Call).
			SetName("session.api-call")
	}

	return controller
}

// NewHTTPController returns a controller; Selector, SignIn and SignOut are
// required.
func NewHTTPController(opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger: defLogger{},
		Routes: &HTTPControllerRoutes{
			Index:    "/",
			Login:    "/login",
			Logout:   "/logout",
			Callback: "/__/auth/handler",
			State:    "/api/state",
			Activity: "/api/activity",
			Call:     "/api/call",
		},
		Views: &HTTPControllerViews{
			Initializing: string(ViewInitializing),
			Login:        string(ViewLogin),
			Secure:       string(ViewSecure),
		},
		LaunchWait:   5 * time.Second,
		CallbackWait: 10 * time.Second,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Selector == nil {
		panic("Missing ViewSelector in http controller...")
	}

	if c.SignIn == nil || c.SignOut == nil {
		panic("Missing action handlers in http controller...")
	}

	return c
}

// Index renders the current view.
func (c *HTTPController) Index(ctx router.Context) error {
	view := c.Selector.View()
	state := c.Selector.State()

	c.mu.Lock()
	signInError := c.signInError
	c.mu.Unlock()

	message := c.Selector.ErrorMessage()
	if message == "" {
		message = signInError
	}

	return ctx.Render(c.viewTemplate(view), router.ViewContext{
		"title":      PageTitle,
		"view":       string(view),
		"user":       state.User,
		"error":      message,
		"signing_in": c.SignIn.InProgress(),
		"flash":      ctx.Locals(FlashLocalsKey),
		"routes":     c.Routes,
	})
}

// LoginPost starts a popup sign in and redirects the browser to the
// provider. Without a popup the sign in result is awaited directly. Only one
// sign in runs at a time.
func (c *HTTPController) LoginPost(ctx router.Context) error {
	c.mu.Lock()
	if c.attempt != nil && !c.attempt.finished() {
		c.mu.Unlock()
		return c.signInBusy(ctx)
	}
	attempt := newSignInAttempt()
	c.attempt = attempt
	c.signInError = ""
	c.mu.Unlock()

	// the popup outlives this request
	go c.runSignIn(context.Background(), attempt)

	var launches <-chan popup.Launch
	if c.Popups != nil {
		launches = c.Popups.Launches()
	}

	timer := time.NewTimer(c.LaunchWait)
	defer timer.Stop()

	select {
	case launch := <-launches:
		return ctx.Redirect(launch.URL, fiber.StatusFound)
	case <-attempt.done:
		return c.finishSignIn(ctx, attempt)
	case <-timer.C:
		c.Logger.Warn("sign in popup was not launched within %s", c.LaunchWait)
	}

	return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
}

func (c *HTTPController) runSignIn(ctx context.Context, attempt *signInAttempt) {
	err := c.SignIn.Execute(ctx, SignInMessage{
		Scopes:   SignInScopes,
		Notifier: attempt.notes,
	})

	// a sign in started elsewhere owns the popup and its outcome
	if !IsSignInInProgress(err) {
		c.observe(ActionSignIn, err)

		c.mu.Lock()
		if c.attempt == attempt {
			c.signInError = FailureMessage(err)
		}
		c.mu.Unlock()
	}

	attempt.finish(err)
}

// Callback receives the provider redirect and completes the waiting popup.
func (c *HTTPController) Callback(ctx router.Context) error {
	if c.Popups == nil {
		return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
	}

	query := url.Values{}
	for _, key := range callbackQueryKeys {
		if value := ctx.Query(key); value != "" {
			query.Set(key, value)
		}
	}

	if err := c.Popups.Deliver(query); err != nil {
		if errors.Is(err, popup.ErrUnknownState) {
			c.Logger.Warn("auth callback with unknown state")
			return c.flash(ctx, Notification{
				Level:       NotificationError,
				Title:       "Failed to sign in",
				Description: "The sign in window expired. Please try again.",
			}).Redirect(c.Routes.Index, fiber.StatusSeeOther)
		}
		return err
	}

	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()

	if attempt == nil {
		return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
	}

	timer := time.NewTimer(c.CallbackWait)
	defer timer.Stop()

	select {
	case <-attempt.done:
		return c.finishSignIn(ctx, attempt)
	case <-timer.C:
		c.Logger.Warn("sign in did not complete within %s of the provider callback", c.CallbackWait)
	}

	return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
}

// LogoutPost signs out and applies the signed out state right away.
func (c *HTTPController) LogoutPost(ctx router.Context) error {
	notes := &NotificationRecorder{}
	err := c.SignOut.Execute(ctx.Context(), SignOutMessage{
		OnAuthStateChange: c.Selector.Apply,
		Notifier:          notes,
	})
	c.observe(ActionSignOut, err)

	if n, ok := notes.Last(); ok {
		return c.flash(ctx, n).Redirect(c.Routes.Index, fiber.StatusSeeOther)
	}
	return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
}

// State returns the selector state as JSON.
func (c *HTTPController) State(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, map[string]any{
		"view":  c.Selector.View(),
		"state": c.Selector.State(),
		"error": c.Selector.ErrorMessage(),
	})
}

// ActivityList returns the signed in tenant's recent activity.
func (c *HTTPController) ActivityList(ctx router.Context) error {
	state := c.Selector.State()
	if !state.IsLoggedIn || state.User == nil {
		return ctx.JSON(router.StatusUnauthorized, map[string]string{
			"error": ErrNotAuthenticated.Error(),
		})
	}

	limit := defaultActivityLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ctx.JSON(router.StatusBadRequest, map[string]string{
				"error": "limit must be a positive number",
			})
		}
		limit = n
	}

	events, err := c.Activity.Recent(ctx.Context(), state.User.TenantID, limit)
	if err != nil {
		c.Logger.Error("list activity: %v", err)
		return ctx.JSON(fiber.StatusInternalServerError, map[string]string{
			"error": "failed to list activity",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"events": events,
	})
}

// Call proxies a GET to the backend API with the user's ID token.
func (c *HTTPController) Call(ctx router.Context) error {
	path := ctx.Query("path")
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return ctx.JSON(router.StatusBadRequest, map[string]string{
			"error": "path must be an absolute API path",
		})
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + path
	body, err := c.API.Call(ctx.Context(), endpoint, "GET", nil)
	c.observe(ActionAPICall, err)
	if err != nil {
		status := fiber.StatusBadGateway
		if IsNotAuthenticated(err) {
			status = router.StatusUnauthorized
		}
		return ctx.JSON(status, map[string]any{
			"error":  FailureMessage(err),
			"status": FailureStatus(err),
		})
	}

	return ctx.JSON(router.StatusOK, map[string]string{
		"body": body,
	})
}

func (c *HTTPController) finishSignIn(ctx router.Context, attempt *signInAttempt) error {
	if IsSignInInProgress(attempt.err) {
		return c.signInBusy(ctx)
	}
	if n, ok := attempt.notes.Last(); ok {
		return c.flash(ctx, n).Redirect(c.Routes.Index, fiber.StatusSeeOther)
	}
	return ctx.Redirect(c.Routes.Index, fiber.StatusSeeOther)
}

func (c *HTTPController) signInBusy(ctx router.Context) error {
	return c.flash(ctx, Notification{
		Level: NotificationInfo,
		Title: "Sign in already in progress",
	}).Redirect(c.Routes.Index, fiber.StatusSeeOther)
}

func (c *HTTPController) flash(ctx router.Context, n Notification) router.Context {
	data := router.ViewContext{
		"level":       string(n.Level),
		"title":       n.Title,
		"description": n.Description,
	}
	if n.Level == NotificationError {
		return flash.WithError(ctx, data)
	}
	return flash.WithSuccess(ctx, data)
}

func (c *HTTPController) viewTemplate(view ViewName) string {
	switch view {
	case ViewInitializing:
		return c.Views.Initializing
	case ViewSecure:
		return c.Views.Secure
	default:
		return c.Views.Login
	}
}

func (c *HTTPController) observe(action string, err error) {
	if c.Metrics != nil {
		c.Metrics.ObserveAction(action, err)
	}
}
