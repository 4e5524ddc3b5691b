/*
 * Copyright 2026 FieldOps Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package equipment

import "github.com/fieldops/driverd/pkg/models"

// publishFlag selects one of the six toggles from a PublishFlags record.
type publishFlag int

const (
	flagSingleDepth publishFlag = iota
	flagSingleBreadth
	flagMultiDepth
	flagMultiBreadth
	flagAllDepth
	flagAllBreadth
)

func flagValue(f *models.PublishFlags, which publishFlag) *bool {
	switch which {
	case flagSingleDepth:
		return f.SingleDepth
	case flagSingleBreadth:
		return f.SingleBreadth
	case flagMultiDepth:
		return f.MultiDepth
	case flagMultiBreadth:
		return f.MultiBreadth
	case flagAllDepth:
		return f.AllDepth
	default:
		return f.AllBreadth
	}
}

// publishSetting resolves a publish flag for a point: the nearest ancestor
// that specifies it wins, then the global (config-version) default.
func (t *Tree) publishSetting(point *Node, which publishFlag) bool {
	for h := point.parent; h != NoHandle; {
		node := t.nodes[h]
		if node == nil {
			break
		}

		if node.Config != nil {
			if v := flagValue(&node.Config.PublishFlags, which); v != nil {
				return *v
			}
		}

		h = node.parent
	}

	if v := flagValue(&t.opts.Defaults, which); v != nil {
		return *v
	}

	return false
}

// Publication predicates, each a pure function of the point's ancestor
// configuration.

func (t *Tree) IsPublishedSingleDepth(point *Node) bool {
	return t.publishSetting(point, flagSingleDepth)
}

func (t *Tree) IsPublishedSingleBreadth(point *Node) bool {
	return t.publishSetting(point, flagSingleBreadth)
}

func (t *Tree) IsPublishedMultiDepth(point *Node) bool {
	return t.publishSetting(point, flagMultiDepth)
}

func (t *Tree) IsPublishedMultiBreadth(point *Node) bool {
	return t.publishSetting(point, flagMultiBreadth)
}

func (t *Tree) IsPublishedAllDepth(point *Node) bool {
	return t.publishSetting(point, flagAllDepth)
}

func (t *Tree) IsPublishedAllBreadth(point *Node) bool {
	return t.publishSetting(point, flagAllBreadth)
}
