package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoundID uniquely identifies a round
type RoundID string

// AccessCode is the short human-readable code players use to join a round
type AccessCode string

// RoundStatus is the lifecycle status of a round
type RoundStatus string

const (
	StatusInProgress RoundStatus = "in-progress"
	StatusCompleted  RoundStatus = "completed"
)

// Valid reports whether s is a known status
func (s RoundStatus) Valid() bool {
	return s == StatusInProgress || s == StatusCompleted
}

// RoundConfig is the immutable identity and rules of a round
type RoundConfig struct {
	RoundID    RoundID    `json:"roundId"`
	AccessCode AccessCode `json:"accessCode"`
	CourseName string     `json:"courseName"`
	Holes      int        `json:"holes"`
	Par        []int      `json:"par"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// RoundState is the mutable, versioned part of a round.
// StateVersion increases by exactly one per accepted write.
type RoundState struct {
	RoundID      RoundID      `json:"roundId"`
	CurrentHole  int          `json:"currentHole"`
	Status       *RoundStatus `json:"status"` // nil means unset
	StateVersion int64        `json:"stateVersion"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// StatusPtr returns a pointer to s, for building states and patches
func StatusPtr(s RoundStatus) *RoundStatus {
	return &s
}

// SameMonitoredFields reports whether the fields subscribers care about
// (current hole, status, version) are identical between a and b.
func (a RoundState) SameMonitoredFields(b RoundState) bool {
	if a.CurrentHole != b.CurrentHole || a.StateVersion != b.StateVersion {
		return false
	}
	switch {
	case a.Status == nil && b.Status == nil:
		return true
	case a.Status == nil || b.Status == nil:
		return false
	default:
		return *a.Status == *b.Status
	}
}

// OptionalStatus carries a status patch that distinguishes "not provided"
// from "explicitly set to null".
type OptionalStatus struct {
	Set   bool
	Value *RoundStatus
}

// SetStatus builds a patch that sets the status to s
func SetStatus(s RoundStatus) OptionalStatus {
	return OptionalStatus{Set: true, Value: StatusPtr(s)}
}

// UnsetStatus builds a patch that clears the status
func UnsetStatus() OptionalStatus {
	return OptionalStatus{Set: true}
}

// UnmarshalJSON marks the field as provided, including an explicit null
func (o *OptionalStatus) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var s RoundStatus
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !s.Valid() {
		return fmt.Errorf("unknown round status %q: %w", s, ErrInvalidInput)
	}
	o.Value = &s
	return nil
}

// MarshalJSON writes the value, or null when unset
func (o OptionalStatus) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
