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

package provision

import (
	"fmt"

	"github.com/kraklabs/kbsync/pkg/mindsdb"
)

// DefaultPromptTemplate is the agent prompt used when none is configured.
const DefaultPromptTemplate = `You are a helpful assistant that answers questions about product documents and design specifications.

The knowledge base contains:
1. Product requirements documents (PRDs) in text and markdown.
2. UI/UX design specifications in JSON, with component names, screen hierarchies and element properties.

When answering:
- Use the PRDs for features, business goals and strategy.
- Use the design files for components, screens and layout.
- Cite the document each answer comes from.
- If the information is not in the knowledge base, say so clearly.

Answer the user's question with specific details from the relevant documents.`

// Identifiers are validated by Config.Validate; literals are quoted.

func dropAgentSQL(c Config) string {
	return fmt.Sprintf("DROP AGENT %s;", c.Agent)
}

func dropKnowledgeBaseSQL(c Config) string {
	return fmt.Sprintf("DROP KNOWLEDGE_BASE %s;", c.KnowledgeBase)
}

func dropModelSQL(c Config) string {
	return fmt.Sprintf("DROP MODEL %s;", c.EmbeddingModel)
}

func createModelSQL(c Config) string {
	return fmt.Sprintf(`CREATE MODEL %s
PREDICT embeddings
USING
    engine = %s,
    model_name = %s,
    api_key = %s;`,
		c.EmbeddingModel,
		mindsdb.QuoteString(c.EmbeddingEngine),
		mindsdb.QuoteString(c.EmbeddingModelName),
		mindsdb.QuoteString(c.APIKey),
	)
}

func modelStatusSQL(c Config) string {
	return fmt.Sprintf("SELECT status, error FROM %s.models WHERE name = %s;",
		c.Project, mindsdb.QuoteString(c.EmbeddingModel))
}

func createKnowledgeBaseSQL(c Config) string {
	return fmt.Sprintf("CREATE KNOWLEDGE_BASE %s;", c.KnowledgeBase)
}

func knowledgeBaseProbeSQL(c Config) string {
	return fmt.Sprintf("SELECT COUNT(*) AS count FROM %s;", c.KnowledgeBase)
}

func createAgentSQL(c Config) string {
	return fmt.Sprintf(`CREATE AGENT %s
USING
    model = %s,
    provider = %s,
    api_key = %s,
    prompt_template = %s,
    knowledge_bases = %s;`,
		c.Agent,
		mindsdb.QuoteString(c.AgentModel),
		mindsdb.QuoteString(c.AgentProvider),
		mindsdb.QuoteString(c.APIKey),
		mindsdb.QuoteString(c.PromptTemplate),
		mindsdb.QuoteStringList([]string{c.Project + "." + c.KnowledgeBase}),
	)
}

func agentProbeSQL(c Config) string {
	return fmt.Sprintf("SELECT name FROM %s.agents WHERE name = %s;",
		c.Project, mindsdb.QuoteString(c.Agent))
}
