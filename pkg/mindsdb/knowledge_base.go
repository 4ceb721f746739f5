// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package mindsdb

import (
	"context"
	"fmt"
)

// DefaultKnowledgeBase is the knowledge base documents are inserted into.
const DefaultKnowledgeBase = "prd_knowledge_base"

// KnowledgeBase adapts one MindsDB knowledge base to the ingestion sink
// contract: probe, submit a document, count stored chunks.
type KnowledgeBase struct {
	client *Client
	name   string
}

// NewKnowledgeBase binds client to the named knowledge base.
func NewKnowledgeBase(client *Client, name string) (*KnowledgeBase, error) {
	if err := ValidateIdentifier(name); err != nil {
		return nil, fmt.Errorf("knowledge base: %w", err)
	}
	return &KnowledgeBase{client: client, name: name}, nil
}

func (kb *KnowledgeBase) Name() string { return kb.name }

// Ping checks that the server is reachable.
func (kb *KnowledgeBase) Ping(ctx context.Context) error {
	return kb.client.Status(ctx)
}

// Submit inserts one document. Chunking and embedding happen server side.
func (kb *KnowledgeBase) Submit(ctx context.Context, content string) error {
	if _, err := kb.client.Query(ctx, insertStatement(kb.name, content)); err != nil {
		return fmt.Errorf("insert into %s: %w", kb.name, err)
	}
	return nil
}

// Count returns the number of chunks currently stored.
func (kb *KnowledgeBase) Count(ctx context.Context) (int, error) {
	res, err := kb.client.Query(ctx, countStatement(kb.name))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kb.name, err)
	}
	n, err := res.Int(0, 0)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kb.name, err)
	}
	return n, nil
}

func insertStatement(kb, content string) string {
	return fmt.Sprintf("INSERT INTO %s (content)\nSELECT %s AS content;", kb, QuoteString(content))
}

func countStatement(kb string) string {
	return fmt.Sprintf("SELECT COUNT(*) AS count FROM %s;", kb)
}
