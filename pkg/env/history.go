// Copyright 2026 The Reef Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package env

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HistoryEntry is one completed transaction, as recorded in the
// environment's append-only history log.
type HistoryEntry struct {
	Index    int       `json:"index"`
	Time     time.Time `json:"time"`
	Request  []string  `json:"request"`
	Linked   []string  `json:"linked,omitempty"`
	Unlinked []string  `json:"unlinked,omitempty"`
}

func (e *Environment) historyPath() string {
	return filepath.Join(e.root, metaDir, "history.jsonl")
}

// History returns all recorded transactions, oldest first.
func (e *Environment) History() ([]HistoryEntry, error) {
	f, err := os.Open(e.historyPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		out = append(out, entry)
	}
	return out, scanner.Err()
}

// RecordHistory appends a transaction to the log, assigning the next
// monotonic index. One JSON object per line; the log is never rewritten.
func (e *Environment) RecordHistory(entry HistoryEntry) (HistoryEntry, error) {
	prev, err := e.History()
	if err != nil {
		return entry, err
	}
	entry.Index = 1
	if len(prev) > 0 {
		entry.Index = prev[len(prev)-1].Index + 1
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return entry, err
	}
	f, err := os.OpenFile(e.historyPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return entry, err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return entry, err
	}
	return entry, nil
}
