// station-sync pushes a YAML manifest of monitoring stations to a
// running API server, optionally re-syncing whenever the manifest
// file changes on disk.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/cacophony-project/cacophony-api/pkg/reconcile"
)

// Manifest is the on-disk station layout, one entry per group.
type Manifest struct {
	Groups []GroupStations `yaml:"groups"`
}

// GroupStations lists the desired stations for a single group.
type GroupStations struct {
	Group    string                  `yaml:"group"`
	Stations []reconcile.StationSpec `yaml:"stations"`
}

func main() {
	serverURL := flag.String("server", "http://localhost:1080", "Base URL of the API server")
	manifestPath := flag.String("manifest", "stations.yaml", "Path to the station manifest file")
	username := flag.String("username", "", "Username to authenticate with")
	password := flag.String("password", os.Getenv("CACOPHONY_PASSWORD"), "Password (defaults to CACOPHONY_PASSWORD)")
	fromDate := flag.String("from-date", "", "Reassign recordings from this RFC 3339 time onwards")
	watch := flag.Bool("watch", false, "Keep running and re-sync when the manifest changes")
	delaySeconds := flag.Int("delay", 2, "Delay in seconds before syncing after a manifest change")
	flag.Parse()

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	if *username == "" || *password == "" {
		logger.Fatal("both -username and a password are required")
	}

	var cutoff *time.Time
	if *fromDate != "" {
		parsed, err := time.Parse(time.RFC3339, *fromDate)
		if err != nil {
			logger.WithError(err).Fatal("invalid -from-date, expected RFC 3339")
		}
		cutoff = &parsed
	}

	client := &syncClient{
		baseURL: *serverURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}

	if err := client.authenticate(*username, *password); err != nil {
		logger.WithError(err).Fatal("authentication failed")
	}

	if err := syncManifest(client, *manifestPath, cutoff, logger); err != nil {
		logger.WithError(err).Fatal("initial sync failed")
	}

	if !*watch {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithError(err).Fatal("failed to create watcher")
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors replace files
	// on save, which drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(*manifestPath)); err != nil {
		logger.WithError(err).Fatal("failed to watch manifest directory")
	}

	logger.WithField("manifest", *manifestPath).Info("watching for manifest changes")
	delay := time.Duration(*delaySeconds) * time.Second
	var timer *time.Timer

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(*manifestPath) {
				continue
			}
			logger.WithField("file", event.Name).Info("manifest changed, sync scheduled")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, func() {
				if err := syncManifest(client, *manifestPath, cutoff, logger); err != nil {
					logger.WithError(err).Error("sync failed")
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Error("watcher error")
		}
	}
}

func syncManifest(client *syncClient, path string, fromDate *time.Time, logger *logrus.Logger) error {
	manifest, err := loadManifest(path)
	if err != nil {
		return err
	}

	for _, group := range manifest.Groups {
		outcome, err := client.importStations(group.Group, group.Stations, fromDate)
		if err != nil {
			return fmt.Errorf("group %s: %w", group.Group, err)
		}
		logger.WithFields(logrus.Fields{
			"group":      group.Group,
			"created":    outcome.Created,
			"updated":    outcome.Updated,
			"retired":    outcome.Retired,
			"reassigned": outcome.Reassigned,
		}).Info("group synced")
	}
	return nil
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(manifest.Groups) == 0 {
		return nil, fmt.Errorf("manifest %s lists no groups", path)
	}

	seen := make(map[string]map[string]bool)
	for _, group := range manifest.Groups {
		if group.Group == "" {
			return nil, fmt.Errorf("manifest %s has a group entry with no name", path)
		}
		if seen[group.Group] == nil {
			seen[group.Group] = make(map[string]bool)
		}
		for _, station := range group.Stations {
			if station.Name == "" {
				return nil, fmt.Errorf("group %s has a station with no name", group.Group)
			}
			if seen[group.Group][station.Name] {
				return nil, fmt.Errorf("group %s lists station %s twice", group.Group, station.Name)
			}
			seen[group.Group][station.Name] = true
		}
	}
	return &manifest, nil
}

// syncClient talks to the API server, holding the bearer token from
// the initial authentication call.
type syncClient struct {
	baseURL string
	http    *http.Client
	token   string
	logger  *logrus.Logger
}

func (c *syncClient) authenticate(username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	var response struct {
		Token    string   `json:"token"`
		Messages []string `json:"messages"`
	}
	if err := c.post("/api/v1/users/authenticate", body, &response); err != nil {
		return err
	}
	if response.Token == "" {
		return fmt.Errorf("server returned no token")
	}

	c.token = response.Token
	c.logger.WithField("username", username).Info("authenticated")
	return nil
}

func (c *syncClient) importStations(groupName string, stations []reconcile.StationSpec, fromDate *time.Time) (*reconcile.Outcome, error) {
	if stations == nil {
		stations = []reconcile.StationSpec{}
	}
	body, err := json.Marshal(map[string]any{
		"stations": stations,
		"fromDate": fromDate,
	})
	if err != nil {
		return nil, err
	}

	var outcome reconcile.Outcome
	if err := c.post("/api/v1/groups/"+groupName+"/stations", body, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (c *syncClient) post(path string, body []byte, out any) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Messages []string `json:"messages"`
		}
		if json.Unmarshal(payload, &envelope) == nil && len(envelope.Messages) > 0 {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, envelope.Messages[0])
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.Unmarshal(payload, out)
}
