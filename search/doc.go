// Copyright 2025 Poiesic Systems
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
// Package search answers questions over the content of a single pod.
//
// A Searcher embeds the question and asks the vector store for the chunks
// of that pod nearest to it. Chunks containing every significant word of the
// question are moved ahead of the others. When the question cannot be
// embedded, the store fails, or the pod has no chunks yet, the Searcher falls
// back to the pod's plain-text index built during fan-out.
//
// Ask runs the same retrieval and hands the resulting context to an
// ai.Answerer.
package search
