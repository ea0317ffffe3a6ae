package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

const (
	primaryCalendar = "primary"
	revokeEndpoint  = "https://oauth2.googleapis.com/revoke"

	// Per-attempt deadline for every upstream HTTP call.
	callTimeout = 10 * time.Second
)

// GoogleClient is the production Client backed by the Google Calendar API.
type GoogleClient struct {
	config *oauth2.Config
	// httpClient is used for the revoke endpoint, which the SDK does not
	// cover.
	httpClient *http.Client
}

var _ Client = (*GoogleClient)(nil)

// NewGoogleClient builds the client from OAuth application credentials.
func NewGoogleClient(clientID, clientSecret, redirectURL string) *GoogleClient {
	return &GoogleClient{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
				calendar.CalendarScope,
				calendar.CalendarEventsScope,
			},
			Endpoint: google.Endpoint,
		},
		httpClient: &http.Client{Timeout: callTimeout},
	}
}

// AuthCodeURL builds the consent URL. offline + consent forces Google to
// return a refresh token on every authorization.
func (g *GoogleClient) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return g.config.Exchange(ctx, code)
}

// Refresh mints a new access token from a refresh token. The token source
// is constructed fresh per call; the manager above owns caching.
func (g *GoogleClient) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	src := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}

// Revoke invalidates a token at Google. Works for either token type; Google
// revokes the whole grant when given a refresh token.
func (g *GoogleClient) Revoke(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &googleapi.Error{Code: resp.StatusCode, Message: "token revocation failed"}
	}
	return nil
}

func (g *GoogleClient) Profile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, tok)))
	if err != nil {
		return nil, err
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	if info.Id == "" || info.Email == "" {
		return nil, fmt.Errorf("userinfo response missing id or email")
	}

	return &Profile{
		GoogleID:   info.Id,
		Email:      info.Email,
		Name:       info.Name,
		PictureURL: info.Picture,
	}, nil
}

func (g *GoogleClient) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	return calendar.NewService(ctx, option.WithTokenSource(src))
}

func (g *GoogleClient) ListEvents(ctx context.Context, accessToken string, opts ListOptions) (*EventsPage, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	call := svc.Events.List(primaryCalendar).Context(ctx)
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}

	if opts.SyncToken != "" {
		call = call.SyncToken(opts.SyncToken)
	} else {
		// singleEvents+orderBy are only legal without a sync token.
		call = call.
			TimeMin(opts.TimeMin.Format(time.RFC3339)).
			TimeMax(opts.TimeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
	}

	resp, err := call.Do()
	if err != nil {
		return nil, err
	}

	return &EventsPage{
		Items:         resp.Items,
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}, nil
}

func (g *GoogleClient) InsertEvent(ctx context.Context, accessToken string, ev *calendar.Event) (*calendar.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return svc.Events.Insert(primaryCalendar, ev).Context(ctx).Do()
}

func (g *GoogleClient) UpdateEvent(ctx context.Context, accessToken, eventID string, ev *calendar.Event) (*calendar.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return svc.Events.Update(primaryCalendar, eventID, ev).Context(ctx).Do()
}

func (g *GoogleClient) DeleteEvent(ctx context.Context, accessToken, eventID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return err
	}
	return svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do()
}

func (g *GoogleClient) Watch(ctx context.Context, accessToken string, ch *calendar.Channel) (*calendar.Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return svc.Events.Watch(primaryCalendar, ch).Context(ctx).Do()
}

func (g *GoogleClient) StopChannel(ctx context.Context, accessToken string, ch *calendar.Channel) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return err
	}
	return svc.Channels.Stop(ch).Context(ctx).Do()
}
