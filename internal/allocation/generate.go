package allocation

import (
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Generator 產生保證有解的題目
//
// *rand.Rand 不是併發安全的，多個房間可能同時出題，所以以 mutex 保護。
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator 以指定亂數來源建立產生器（測試時可固定種子）
func NewGenerator(rng *rand.Rand) *Generator {
	return &Generator{
		rng: rng,
		now: time.Now,
	}
}

// NewRandomGenerator 建立使用隨機種子的產生器
func NewRandomGenerator() *Generator {
	return NewGenerator(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// Generate 產生大小為 n 的題目
//
// 回傳的題目尚未持久化（ID 為 0），由呼叫端交給儲存層。
func (g *Generator) Generate(n int) (*Instance, error) {
	if n < MinSize {
		return nil, apperrors.ErrInvalidInput.WithDetails("instance size %d below minimum %d", n, MinSize)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// objects[a] 是參與者 a 的目標物品
	objects := g.rng.Perm(n)

	// 目標物品在偏好順序中的名次
	allocIndices := make([]int, n)
	for a := range n {
		if len(Neighbors(a, n)) == 1 {
			allocIndices[a] = g.rng.IntN(n - 1)
		} else {
			allocIndices[a] = g.rng.IntN(n - 2)
		}
	}

	inst := &Instance{
		Size:      n,
		Prefs:     make([]PreferenceOrder, 0, n),
		CreatedAt: g.now(),
	}

	for a := range n {
		neighbors := Neighbors(a, n)

		poolTop := make([]int, 0, n)
		for o := range n {
			if o != a && !slices.Contains(neighbors, o) {
				poolTop = append(poolTop, o)
			}
		}
		g.shuffle(poolTop)

		prefs := make([]int, 0, n)

		// 排在目標物品之前的物品
		for range allocIndices[a] {
			var o int
			o, poolTop = pop(poolTop)
			prefs = append(prefs, objects[o])
		}

		prefs = append(prefs, objects[a])

		// 剩下的物品（包含鄰居的目標物品）排在目標物品之後
		poolBottom := append(slices.Clone(poolTop), neighbors...)
		g.shuffle(poolBottom)
		for len(prefs) < n {
			var o int
			o, poolBottom = pop(poolBottom)
			prefs = append(prefs, objects[o])
		}

		inst.Prefs = append(inst.Prefs, PreferenceOrder{Actor: a, Values: prefs})
	}

	return inst, nil
}

func (g *Generator) shuffle(s []int) {
	g.rng.Shuffle(len(s), func(i, j int) {
		s[i], s[j] = s[j], s[i]
	})
}

func pop(s []int) (int, []int) {
	last := len(s) - 1
	return s[last], s[:last]
}
