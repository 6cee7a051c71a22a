// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package evm

import (
	"github.com/Fantom-foundation/Loom/go/loom"
	lru "github.com/hashicorp/golang-lru/v2"
)

// jumpDests marks the positions of JUMPDEST instructions in a code, skipping
// immediate arguments of PUSH instructions.
type jumpDests []uint64

func (d jumpDests) isValid(pos uint64) bool {
	return pos/64 < uint64(len(d)) && d[pos/64]&(1<<(pos%64)) != 0
}

func analyzeJumpDests(code []byte) jumpDests {
	res := make(jumpDests, (len(code)+63)/64)
	for i := 0; i < len(code); {
		op := OpCode(code[i])
		if op == JUMPDEST {
			res[i/64] |= 1 << (i % 64)
		}
		i += op.Width()
	}
	return res
}

// AnalysisCache caches jump destination analyses by code hash.
type AnalysisCache struct {
	cache *lru.Cache[loom.Hash, jumpDests]
}

// NewAnalysisCache creates a cache retaining up to capacity analyses. A
// non-positive capacity disables caching.
func NewAnalysisCache(capacity int) (*AnalysisCache, error) {
	if capacity <= 0 {
		return &AnalysisCache{}, nil
	}
	cache, err := lru.New[loom.Hash, jumpDests](capacity)
	if err != nil {
		return nil, err
	}
	return &AnalysisCache{cache: cache}, nil
}

func (c *AnalysisCache) get(code []byte) jumpDests {
	if c == nil || c.cache == nil {
		return analyzeJumpDests(code)
	}
	hash := loom.Keccak256(code)
	if res, found := c.cache.Get(hash); found {
		return res
	}
	res := analyzeJumpDests(code)
	c.cache.Add(hash, res)
	return res
}

var defaultAnalysisCache = func() *AnalysisCache {
	cache, err := NewAnalysisCache(4096)
	if err != nil {
		panic(err)
	}
	return cache
}()
