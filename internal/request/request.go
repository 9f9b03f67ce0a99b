// Package request decodes the one-shot operation requests that drive a CLI
// run, the non-conversational stand-in for an interactive front-end.
package request

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Action enumerates the operations a request may ask for.
type Action string

const (
	ActionCheck           Action = "check"
	ActionDiff            Action = "diff"
	ActionFiles           Action = "files"
	ActionBranches        Action = "branches"
	ActionDecide          Action = "decide"
	ActionExport          Action = "export"
	ActionExportNewBranch Action = "export-new-branch"
)

// Payload is one decoded operation request.
type Payload struct {
	Action       Action `json:"action"`
	Repository   string `json:"repository"`
	Commit       string `json:"commit"`
	TargetBranch string `json:"target_branch"`
	NewBranch    string `json:"new_branch"`
	BaseRef      string `json:"base_ref"`
	Decision     string `json:"decision"`
}

// Parse decodes a request payload from the provided reader.
func Parse(r io.Reader) (Payload, error) {
	var payload Payload

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return Payload{}, fmt.Errorf("decode request: %w", err)
	}

	payload.Action = Action(strings.ToLower(strings.TrimSpace(string(payload.Action))))
	payload.Repository = strings.TrimSpace(payload.Repository)
	payload.Commit = strings.TrimSpace(payload.Commit)
	payload.TargetBranch = strings.TrimSpace(payload.TargetBranch)
	payload.NewBranch = strings.TrimSpace(payload.NewBranch)
	payload.BaseRef = strings.TrimSpace(payload.BaseRef)
	payload.Decision = strings.ToLower(strings.TrimSpace(payload.Decision))

	if payload.Action == "" {
		return Payload{}, fmt.Errorf("request is missing an action")
	}
	if payload.Repository == "" {
		return Payload{}, fmt.Errorf("request is missing a repository")
	}
	if payload.Action != ActionBranches && payload.Commit == "" {
		return Payload{}, fmt.Errorf("request is missing a commit")
	}

	return payload, nil
}

// ParseFile reads the request JSON from disk.
func ParseFile(path string) (Payload, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, fmt.Errorf("open request file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close request file: %v\n", closeErr)
		}
	}()

	payload, err := Parse(f)
	if err != nil {
		return Payload{}, err
	}

	return payload, nil
}
