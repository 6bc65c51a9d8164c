package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"relay-service/internal/models"
)

// Client is the hosted-backend boundary: a row-oriented data store, a
// callable function endpoint for push dispatch, and token verification.
type Client interface {
	DeliverMessage(ctx context.Context, msg models.QueuedMessage) error
	CountUnread(ctx context.Context, userID string, kind models.ConversationKind) (int, error)
	MarkAllRead(ctx context.Context, userID string) error
	FetchProfile(ctx context.Context, userID string) (models.Profile, error)
	SendPush(ctx context.Context, recipientID, title, body string, data map[string]string) error
	VerifyToken(ctx context.Context, token string) (string, error)
	Ping(ctx context.Context) error
}

// RESTClient talks to the hosted backend over its REST surface.
type RESTClient struct {
	http   *resty.Client
	apiKey string
}

// NewRESTClient configures a backend client for the given base URL and api key.
func NewRESTClient(baseURL, apiKey string) (*RESTClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("backend base url cannot be empty")
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetAuthToken(apiKey).
		SetTimeout(10 * time.Second)

	return &RESTClient{http: httpClient, apiKey: apiKey}, nil
}

// tables of the hosted row store this client touches.
const (
	tableMessages      = "messages"
	tableGroupMessages = "group_messages"
	tableProfiles      = "profiles"
	tableNotifications = "notifications"
)

// insertRow inserts one row into a table.
func (c *RESTClient) insertRow(ctx context.Context, table string, row any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(row).
		Post("/rest/v1/" + table)
	if err != nil {
		return newTransportError("insert "+table, err)
	}
	if resp.IsError() {
		return newStatusError("insert "+table, resp.StatusCode(), resp.String())
	}
	return nil
}

// selectRows queries a table with equality filters, optionally limited.
func (c *RESTClient) selectRows(ctx context.Context, table string, filters map[string]string, limit int, out any) error {
	req := c.http.R().SetContext(ctx).SetResult(out)
	for column, value := range filters {
		req.SetQueryParam(column, "eq."+value)
	}
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprintf("%d", limit))
	}
	resp, err := req.Get("/rest/v1/" + table)
	if err != nil {
		return newTransportError("select "+table, err)
	}
	if resp.IsError() {
		return newStatusError("select "+table, resp.StatusCode(), resp.String())
	}
	return nil
}

// updateRows patches all rows matching the equality filters.
func (c *RESTClient) updateRows(ctx context.Context, table string, filters map[string]string, patch any) error {
	req := c.http.R().SetContext(ctx).SetBody(patch)
	for column, value := range filters {
		req.SetQueryParam(column, "eq."+value)
	}
	resp, err := req.Patch("/rest/v1/" + table)
	if err != nil {
		return newTransportError("update "+table, err)
	}
	if resp.IsError() {
		return newStatusError("update "+table, resp.StatusCode(), resp.String())
	}
	return nil
}

// deleteRows removes all rows matching the equality filters.
func (c *RESTClient) deleteRows(ctx context.Context, table string, filters map[string]string) error {
	req := c.http.R().SetContext(ctx)
	for column, value := range filters {
		req.SetQueryParam(column, "eq."+value)
	}
	resp, err := req.Delete("/rest/v1/" + table)
	if err != nil {
		return newTransportError("delete "+table, err)
	}
	if resp.IsError() {
		return newStatusError("delete "+table, resp.StatusCode(), resp.String())
	}
	return nil
}

// countRows runs a count-only query against a table.
func (c *RESTClient) countRows(ctx context.Context, table string, filters map[string]string) (int, error) {
	var rows []struct {
		Count int `json:"count"`
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("select", "count").
		SetResult(&rows)
	for column, value := range filters {
		req.SetQueryParam(column, "eq."+value)
	}
	resp, err := req.Get("/rest/v1/" + table)
	if err != nil {
		return 0, newTransportError("count "+table, err)
	}
	if resp.IsError() {
		return 0, newStatusError("count "+table, resp.StatusCode(), resp.String())
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// DeliverMessage writes a queued message into the appropriate message table.
func (c *RESTClient) DeliverMessage(ctx context.Context, msg models.QueuedMessage) error {
	table := tableMessages
	row := map[string]any{
		"client_id":  msg.ID,
		"content":    msg.Body,
		"created_at": msg.EnqueuedAt.UTC().Format(time.RFC3339Nano),
	}
	if msg.AttachmentRef != "" {
		row["attachment_ref"] = msg.AttachmentRef
	}
	if msg.Kind == models.KindGroup {
		table = tableGroupMessages
		row["group_id"] = msg.TargetID
	} else {
		row["recipient_id"] = msg.TargetID
	}
	return c.insertRow(ctx, table, row)
}

// CountUnread returns the number of unread rows of the given kind for the
// user. A group send is inserted keyed by group_id only; a backend trigger
// fans it out to one row per member carrying recipient_id and read, which is
// what the unread queries here filter on.
func (c *RESTClient) CountUnread(ctx context.Context, userID string, kind models.ConversationKind) (int, error) {
	table := tableMessages
	if kind == models.KindGroup {
		table = tableGroupMessages
	}
	return c.countRows(ctx, table, map[string]string{
		"recipient_id": userID,
		"read":         "false",
	})
}

// MarkAllRead flags every unread row for the user as read, both kinds, and
// drops any notification rows still queued for delivery to this user.
func (c *RESTClient) MarkAllRead(ctx context.Context, userID string) error {
	filters := map[string]string{"recipient_id": userID, "read": "false"}
	patch := map[string]any{"read": true}
	if err := c.updateRows(ctx, tableMessages, filters, patch); err != nil {
		return err
	}
	if err := c.updateRows(ctx, tableGroupMessages, filters, patch); err != nil {
		return err
	}
	return c.deleteRows(ctx, tableNotifications, map[string]string{"recipient_id": userID})
}

// FetchProfile loads a user profile row.
func (c *RESTClient) FetchProfile(ctx context.Context, userID string) (models.Profile, error) {
	var rows []struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url"`
	}
	if err := c.selectRows(ctx, tableProfiles, map[string]string{"id": userID}, 1, &rows); err != nil {
		return models.Profile{}, err
	}
	if len(rows) == 0 {
		return models.Profile{}, newStatusError("select "+tableProfiles, 404, "profile not found")
	}
	return models.Profile{
		UserID:    rows[0].ID,
		Username:  rows[0].Username,
		AvatarURL: rows[0].AvatarURL,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// SendPush invokes the push-dispatch function. Delivery is fire-and-forget;
// the backend reports acceptance, not device receipt.
func (c *RESTClient) SendPush(ctx context.Context, recipientID, title, body string, data map[string]string) error {
	payload := map[string]any{
		"recipient_id": recipientID,
		"title":        title,
		"body":         body,
		"data":         data,
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/functions/v1/send-push")
	if err != nil {
		return newTransportError("send push", err)
	}
	if resp.IsError() {
		return newStatusError("send push", resp.StatusCode(), resp.String())
	}
	return nil
}

// VerifyToken validates a user access token and returns the user id.
func (c *RESTClient) VerifyToken(ctx context.Context, token string) (string, error) {
	var result struct {
		ID string `json:"id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&result).
		Get("/auth/v1/user")
	if err != nil {
		return "", newTransportError("verify token", err)
	}
	if resp.IsError() {
		return "", newStatusError("verify token", resp.StatusCode(), resp.String())
	}
	if result.ID == "" {
		return "", newStatusError("verify token", 401, "empty user id")
	}
	return result.ID, nil
}

// Ping probes backend reachability for the connectivity monitor.
func (c *RESTClient) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/auth/v1/health")
	if err != nil {
		return newTransportError("ping", err)
	}
	if resp.IsError() {
		log.Debug().Int("status", resp.StatusCode()).Msg("backend health probe returned error status")
		return newStatusError("ping", resp.StatusCode(), resp.String())
	}
	return nil
}
