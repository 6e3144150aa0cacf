package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sudoStacks/retreivr/internal/models"
)

func TestHubBroadcastsProgressToClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client

	hub.BroadcastJSON(models.ProgressUpdate{
		JobID:   "job-1",
		Source:  "youtube",
		Message: "Download finished successfully.",
		Status:  models.JobStatusCompleted,
		Done:    true,
	})

	select {
	case raw := <-client.send:
		var update models.ProgressUpdate
		if err := json.Unmarshal(raw, &update); err != nil {
			t.Fatalf("Broadcast payload is not valid JSON: %v", err)
		}
		if update.JobID != "job-1" || update.Status != models.JobStatusCompleted || !update.Done {
			t.Errorf("Unexpected progress update: %+v", update)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Client did not receive the progress update in time")
	}

	// Unregistering closes the client's send channel.
	hub.unregister <- client
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("Expected the send channel to be closed after unregister")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Send channel was not closed after unregister")
	}
}

func TestHubDropsSlowClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	// No buffer and no reader: the first broadcast cannot be delivered.
	stuck := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- stuck

	hub.BroadcastJSON(models.ProgressUpdate{JobID: "job-1", Status: models.JobStatusRunning, Message: "Downloading"})

	// The hub must drop the client rather than block, which closes its
	// send channel.
	select {
	case _, ok := <-stuck.send:
		if ok {
			t.Error("Expected the slow client's channel to be closed, got a message")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Slow client was never dropped")
	}
}
