// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package activation

import "strings"

// Well-known activation topics.
const (
	// TopicEager activates an extension unconditionally at startup.
	TopicEager = "*"
	// TopicStartupFinished fires once eager activation has settled.
	TopicStartupFinished = "onStartupFinished"
	// TopicCommand fires before a command runs; data is the command id.
	TopicCommand = "onCommand"
	// TopicLanguage fires when a document of a language opens; data is the language id.
	TopicLanguage = "onLanguage"
)

// Record is one fired activation event.
type Record struct {
	Topic   string
	Data    string
	HasData bool
}

// NewRecord builds a record. Only the first data value is used.
func NewRecord(topic string, data ...string) Record {
	r := Record{Topic: topic}
	if len(data) > 0 {
		r.Data = data[0]
		r.HasData = true
	}
	return r
}

// ParseKey converts a declared activation event ("onLanguage:json", "*")
// into a record.
func ParseKey(key string) Record {
	topic, data, ok := strings.Cut(key, ":")
	if !ok {
		return Record{Topic: key}
	}
	return Record{Topic: topic, Data: data, HasData: true}
}

// Key returns "topic" or "topic:data". Records with equal keys are the same
// event.
func (r Record) Key() string {
	if !r.HasData {
		return r.Topic
	}
	return r.Topic + ":" + r.Data
}

// String implements fmt.Stringer.
func (r Record) String() string {
	return r.Key()
}

// IsStartup reports whether the record is one of the startup topics that are
// always re-fired for newly enabled extensions.
func (r Record) IsStartup() bool {
	return !r.HasData && (r.Topic == TopicEager || r.Topic == TopicStartupFinished)
}
