package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"

	"github.com/commitcast/commitcast/backend/internal/handlers"
	"github.com/commitcast/commitcast/backend/internal/store"
)

// bddTestContext drives the full router over HTTP against a real database:
// in-memory SQLite by default, or whatever DATABASE_URL points at.
type bddTestContext struct {
	db           *sql.DB
	server       *httptest.Server
	handler      *handlers.Handler
	lastResponse *http.Response
	lastBody     []byte
	lastPostID   int64

	// now anchors the scenario's relative time placeholders so that two
	// requests in one scenario resolve {{in_one_hour}} identically.
	now time.Time
}

func (c *bddTestContext) reset() error {
	c.close()
	c.now = time.Now()
	c.lastPostID = 0
	c.lastBody = nil

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "sqlite::memory:"
	}
	db, driver, err := store.Open(databaseURL)
	if err != nil {
		return fmt.Errorf("open test database: %w", err)
	}
	c.db = db

	if err := applyMigrations(db, driver); err != nil {
		return fmt.Errorf("migrate test database: %w", err)
	}
	if err := c.cleanTables(); err != nil {
		return err
	}

	c.handler = handlers.New(db)
	r := mux.NewRouter()
	handlers.RegisterRoutes(c.handler, r)
	c.server = httptest.NewServer(r)
	return nil
}

func (c *bddTestContext) close() {
	if c.lastResponse != nil && c.lastResponse.Body != nil {
		c.lastResponse.Body.Close()
		c.lastResponse = nil
	}
	if c.server != nil {
		c.server.Close()
		c.server = nil
	}
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

func applyMigrations(db *sql.DB, driver string) error {
	drv, name, err := store.MigrationDriver(db, driver)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance(store.MigrationsSource(driver), name, drv)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (c *bddTestContext) cleanTables() error {
	tables := []string{"scheduled_posts", "post_history", "user_settings", "billing_events", "oauth_states"}
	for _, table := range tables {
		if _, err := c.db.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

// expand substitutes the relative-time placeholders usable in request paths
// and JSON bodies.
func (c *bddTestContext) expand(s string) string {
	r := strings.NewReplacer(
		"{{in_one_hour}}", strconv.FormatInt(c.now.Add(time.Hour).Unix(), 10),
		"{{in_two_hours}}", strconv.FormatInt(c.now.Add(2*time.Hour).Unix(), 10),
		"{{one_hour_ago}}", strconv.FormatInt(c.now.Add(-time.Hour).Unix(), 10),
	)
	return r.Replace(s)
}

func (c *bddTestContext) theDatabaseIsClean() error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.cleanTables()
}

func (c *bddTestContext) theAPIServerIsRunning() error {
	resp, err := http.Get(c.server.URL + "/healthz")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *bddTestContext) userIsOnTier(userID, tier string) error {
	_, err := c.db.Exec(`
		INSERT INTO user_settings (user_id, tier, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET tier = excluded.tier, updated_at = excluded.updated_at
	`, userID, tier, c.now.Unix())
	return err
}

func (c *bddTestContext) userHasPublishedPostsToday(userID string, count int) error {
	for i := 0; i < count; i++ {
		_, err := c.db.Exec(`
			INSERT INTO post_history (user_id, post_content, status, created_at, published_at)
			VALUES ($1, $2, 'published', $3, $3)
		`, userID, fmt.Sprintf("Published post %d", i+1), c.now.Unix())
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *bddTestContext) userHasPendingScheduledPosts(userID string, count int) error {
	for i := 0; i < count; i++ {
		_, err := c.db.Exec(`
			INSERT INTO scheduled_posts (user_id, post_content, scheduled_time, status, created_at)
			VALUES ($1, $2, $3, 'pending', $4)
		`, userID, fmt.Sprintf("Queued post %d", i+1),
			c.now.Add(time.Duration(i+3)*time.Hour).Unix(), c.now.Unix())
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *bddTestContext) userHasPendingPostScheduledInOneHour(userID string, id int) error {
	_, err := c.db.Exec(`
		INSERT INTO scheduled_posts (id, user_id, post_content, scheduled_time, status, created_at)
		VALUES ($1, $2, 'Seeded pending post', $3, 'pending', $4)
	`, id, userID, c.now.Add(time.Hour).Unix(), c.now.Unix())
	return err
}

func (c *bddTestContext) userHasPendingPostScheduledInTwoHours(userID string, id int) error {
	_, err := c.db.Exec(`
		INSERT INTO scheduled_posts (id, user_id, post_content, scheduled_time, status, created_at)
		VALUES ($1, $2, 'Seeded pending post', $3, 'pending', $4)
	`, id, userID, c.now.Add(2*time.Hour).Unix(), c.now.Unix())
	return err
}

func (c *bddTestContext) userHasPublishedPostWithID(userID string, id int) error {
	_, err := c.db.Exec(`
		INSERT INTO scheduled_posts (id, user_id, post_content, scheduled_time, status, created_at, published_at)
		VALUES ($1, $2, 'Already published', $3, 'published', $4, $4)
	`, id, userID, c.now.Add(-30*time.Minute).Unix(), c.now.Unix())
	return err
}

func (c *bddTestContext) iSendAGETRequestTo(path string) error {
	return c.sendRequest(http.MethodGet, path, "")
}

func (c *bddTestContext) iSendAPOSTRequestToWithJSON(path, body string) error {
	return c.sendRequest(http.MethodPost, path, body)
}

func (c *bddTestContext) iSendAPUTRequestToWithJSON(path, body string) error {
	return c.sendRequest(http.MethodPut, path, body)
}

func (c *bddTestContext) iSendADELETERequestTo(path string) error {
	return c.sendRequest(http.MethodDelete, path, "")
}

func (c *bddTestContext) iCancelTheLastCreatedPostAs(userID string) error {
	if c.lastPostID == 0 {
		return fmt.Errorf("no post id captured from a previous response")
	}
	return c.sendRequest(http.MethodDelete,
		fmt.Sprintf("/api/scheduled/%d?user_id=%s", c.lastPostID, userID), "")
}

func (c *bddTestContext) sendRequest(method, path, body string) error {
	url := c.server.URL + c.expand(path)
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(c.expand(body))
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}

	c.lastResponse = resp
	c.lastBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return err
	}

	// Remember the created post id so later steps can address it without
	// depending on engine-specific autoincrement values.
	var envelope struct {
		Post struct {
			ID int64 `json:"id"`
		} `json:"post"`
	}
	if jsonErr := json.Unmarshal(c.lastBody, &envelope); jsonErr == nil && envelope.Post.ID != 0 {
		c.lastPostID = envelope.Post.ID
	}
	return nil
}

func (c *bddTestContext) theResponseStatusCodeShouldBe(expectedCode int) error {
	if c.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if c.lastResponse.StatusCode != expectedCode {
		return fmt.Errorf("expected status code %d, got %d. Body: %s",
			expectedCode, c.lastResponse.StatusCode, string(c.lastBody))
	}
	return nil
}

func (c *bddTestContext) theResponseShouldContainJSONWithSetTo(key, value string) error {
	var data map[string]interface{}
	if err := json.Unmarshal(c.lastBody, &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w. Body: %s", err, string(c.lastBody))
	}
	actualValue, ok := data[key]
	if !ok {
		return fmt.Errorf("key %q not found in response: %s", key, string(c.lastBody))
	}
	actualStr := fmt.Sprintf("%v", actualValue)
	if actualStr != value {
		return fmt.Errorf("expected %q to be %q, got %q", key, value, actualStr)
	}
	return nil
}

func (c *bddTestContext) theResponseShouldContainError(errorMsg string) error {
	if !strings.Contains(string(c.lastBody), errorMsg) {
		return fmt.Errorf("expected error message %q not found in response: %s", errorMsg, c.lastBody)
	}
	return nil
}

func (c *bddTestContext) theResponseShouldHaveScheduledPosts(count int) error {
	var data struct {
		Posts []json.RawMessage `json:"posts"`
	}
	if err := json.Unmarshal(c.lastBody, &data); err != nil {
		return fmt.Errorf("failed to parse posts: %w. Body: %s", err, string(c.lastBody))
	}
	if len(data.Posts) != count {
		return fmt.Errorf("expected %d posts, got %d. Body: %s", count, len(data.Posts), string(c.lastBody))
	}
	return nil
}

func (c *bddTestContext) theResponseUsageShouldShow(used, remaining int) error {
	var snap struct {
		PostsToday     int `json:"posts_today"`
		PostsRemaining int `json:"posts_remaining"`
	}
	if err := json.Unmarshal(c.lastBody, &snap); err != nil {
		return fmt.Errorf("failed to parse snapshot: %w. Body: %s", err, string(c.lastBody))
	}
	if snap.PostsToday != used || snap.PostsRemaining != remaining {
		return fmt.Errorf("expected %d used / %d remaining, got %d / %d",
			used, remaining, snap.PostsToday, snap.PostsRemaining)
	}
	return nil
}

func (c *bddTestContext) theScheduledPostShouldHaveStatus(id int, status string) error {
	var got string
	if err := c.db.QueryRow(`SELECT status FROM scheduled_posts WHERE id = $1`, id).Scan(&got); err != nil {
		return fmt.Errorf("load post %d: %w", id, err)
	}
	if got != status {
		return fmt.Errorf("post %d has status %q, want %q", id, got, status)
	}
	return nil
}

func (c *bddTestContext) theScheduledPostShouldNotExist(id int) error {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM scheduled_posts WHERE id = $1`, id).Scan(&n); err != nil {
		return err
	}
	if n != 0 {
		return fmt.Errorf("post %d still exists", id)
	}
	return nil
}

func InitializeScenario(sc *godog.ScenarioContext) {
	c := &bddTestContext{}

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, c.reset()
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		c.close()
		return ctx, nil
	})

	sc.Step(`^the database is clean$`, c.theDatabaseIsClean)
	sc.Step(`^the API server is running$`, c.theAPIServerIsRunning)

	sc.Step(`^the user "([^"]*)" is on the "([^"]*)" tier$`, c.userIsOnTier)
	sc.Step(`^the user "([^"]*)" has (\d+) published posts today$`, c.userHasPublishedPostsToday)
	sc.Step(`^the user "([^"]*)" has (\d+) pending scheduled posts$`, c.userHasPendingScheduledPosts)
	sc.Step(`^the user "([^"]*)" has a pending post with id (\d+) scheduled in one hour$`, c.userHasPendingPostScheduledInOneHour)
	sc.Step(`^the user "([^"]*)" has a pending post with id (\d+) scheduled in two hours$`, c.userHasPendingPostScheduledInTwoHours)
	sc.Step(`^the user "([^"]*)" has a published post with id (\d+)$`, c.userHasPublishedPostWithID)

	sc.Step(`^I send a GET request to "([^"]*)"$`, c.iSendAGETRequestTo)
	sc.Step(`^I send a POST request to "([^"]*)" with JSON:$`, c.iSendAPOSTRequestToWithJSON)
	sc.Step(`^I send a PUT request to "([^"]*)" with JSON:$`, c.iSendAPUTRequestToWithJSON)
	sc.Step(`^I send a DELETE request to "([^"]*)"$`, c.iSendADELETERequestTo)
	sc.Step(`^I cancel the last created post as "([^"]*)"$`, c.iCancelTheLastCreatedPostAs)

	sc.Step(`^the response status code should be (\d+)$`, c.theResponseStatusCodeShouldBe)
	sc.Step(`^the response should contain JSON with "([^"]*)" set to "([^"]*)"$`, c.theResponseShouldContainJSONWithSetTo)
	sc.Step(`^the response should contain error "([^"]*)"$`, c.theResponseShouldContainError)
	sc.Step(`^the response should have (\d+) scheduled posts$`, c.theResponseShouldHaveScheduledPosts)
	sc.Step(`^the response usage should show (\d+) posts used and (\d+) remaining$`, c.theResponseUsageShouldShow)
	sc.Step(`^the scheduled post (\d+) should have status "([^"]*)"$`, c.theScheduledPostShouldHaveStatus)
	sc.Step(`^the scheduled post (\d+) should not exist$`, c.theScheduledPostShouldNotExist)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
