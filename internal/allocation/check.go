package allocation

import (
	"strconv"

	apperrors "github.com/koopa0/system-design/14-envy-free-duel/pkg/errors"
)

// Solution 每個參與者在自己偏好順序中分到的名次，以參與者索引為下標
type Solution []int

// ParseSolution 將客戶端送來的 {"<actor>": rank} 轉成 Solution
//
// 缺少參與者、多出參與者或名次超出範圍都視為格式錯誤。
func ParseSolution(raw map[string]int, size int) (Solution, error) {
	if len(raw) != size {
		return nil, apperrors.ErrMalformedSolution.WithDetails("expected %d actors, got %d", size, len(raw))
	}

	sol := make(Solution, size)
	filled := make([]bool, size)
	for key, rank := range raw {
		actor, err := strconv.Atoi(key)
		if err != nil || actor < 0 || actor >= size {
			return nil, apperrors.ErrMalformedSolution.WithDetails("invalid actor index %q", key)
		}
		if rank < 0 || rank >= size {
			return nil, apperrors.ErrMalformedSolution.WithDetails("rank %d out of range for actor %d", rank, actor)
		}
		if filled[actor] {
			return nil, apperrors.ErrMalformedSolution.WithDetails("duplicate actor index %d", actor)
		}
		sol[actor] = rank
		filled[actor] = true
	}

	return sol, nil
}

// Allocation 回傳每個參與者實際分到的物品
func (inst *Instance) Allocation(sol Solution) []int {
	objects := make([]int, len(sol))
	for a, rank := range sol {
		objects[a] = inst.Prefs[a].Values[rank]
	}
	return objects
}

// ValidateAllocation 檢查解答是否把每個物品恰好分給一個參與者
func (inst *Instance) ValidateAllocation(sol Solution) error {
	if err := inst.checkShape(sol); err != nil {
		return err
	}

	owner := make(map[int]int, inst.Size)
	for a, object := range inst.Allocation(sol) {
		if prev, taken := owner[object]; taken {
			return apperrors.ErrMalformedSolution.WithDetails("object %d allocated to actors %d and %d", object, prev, a)
		}
		owner[object] = a
	}
	return nil
}

// CheckSolution 檢查解答在路徑拓撲上是否無嫉妒
//
// 只比較相鄰的參與者。已解出的題目回傳 ErrAlreadySolved，結果不可採信。
// 本方法不修改題目狀態。
func (inst *Instance) CheckSolution(sol Solution) (bool, error) {
	if inst.Solved() {
		return false, apperrors.ErrAlreadySolved
	}
	if err := inst.checkShape(sol); err != nil {
		return false, err
	}

	for a := range inst.Size {
		for _, n := range Neighbors(a, inst.Size) {
			neighborObject := inst.Prefs[n].Values[sol[n]]
			neighborObjectRank := inst.Prefs[a].Rank(neighborObject)

			if neighborObjectRank < sol[a] {
				return false, nil
			}
		}
	}

	return true, nil
}

func (inst *Instance) checkShape(sol Solution) error {
	if len(sol) != inst.Size {
		return apperrors.ErrMalformedSolution.WithDetails("expected %d ranks, got %d", inst.Size, len(sol))
	}
	for a, rank := range sol {
		if rank < 0 || rank >= inst.Size {
			return apperrors.ErrMalformedSolution.WithDetails("rank %d out of range for actor %d", rank, a)
		}
	}
	return nil
}
