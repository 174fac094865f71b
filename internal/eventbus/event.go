// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package eventbus carries process-wide broadcasts that unrelated subsystems
// may observe, such as "extension enabled" or "API ready".
package eventbus

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Topic identifies a broadcast.
type Topic string

// Broadcast topics.
const (
	TopicBeforeActivate       Topic = "extension.before-activate"
	TopicAPIReady             Topic = "extension.api-ready"
	TopicExtensionEnabled     Topic = "extension.enabled"
	TopicExtensionDisabled    Topic = "extension.disabled"
	TopicExtensionUninstalled Topic = "extension.uninstalled"
	TopicActivationFired      Topic = "activation.fired"
)

// Event is one broadcast.
type Event struct {
	ID        ulid.ULID
	Topic     Topic
	Timestamp time.Time
	// Subject is the extension path or activation key the event is about.
	Subject string
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewULID generates a new ULID.
func NewULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("invalid ULID %q: %w", s, err)
	}
	return id, nil
}

// NewEvent stamps a new event for topic.
func NewEvent(topic Topic, subject string) Event {
	return Event{
		ID:        NewULID(),
		Topic:     topic,
		Timestamp: time.Now(),
		Subject:   subject,
	}
}
