package engine

import (
	"fmt"

	"github.com/praxismarkets/futarchyd/internal/domain"
)

// bucketSwapPlan holds fully precomputed post-swap bucket states. Commit is
// a plain assignment, so a swap either fails before touching the pool or
// lands completely.
type bucketSwapPlan struct {
	newLive  amounts
	newTrans amounts
}

// planBucketSwap distributes a swap's input and output across the live and
// transitioning buckets pro rata to their current share of the traded side.
// Floor division gives live its exact floor share and transitioning the
// remainder, so the two always sum to the full amount.
func planBucketSwap(live, trans *amounts, sideIn domain.Side, inAfter, out, reserveIn, reserveOut uint64) (bucketSwapPlan, error) {
	liveInRes, transInRes := live.Asset, trans.Asset
	liveOutRes, transOutRes := live.Stable, trans.Stable
	if sideIn == domain.SideStable {
		liveInRes, transInRes = live.Stable, trans.Stable
		liveOutRes, transOutRes = live.Asset, trans.Asset
	}

	liveIn, err := mulDiv(inAfter, liveInRes, reserveIn)
	if err != nil {
		return bucketSwapPlan{}, err
	}
	transIn := inAfter - liveIn

	liveOut, err := mulDiv(out, liveOutRes, reserveOut)
	if err != nil {
		return bucketSwapPlan{}, err
	}
	transOut := out - liveOut
	if liveOut > liveOutRes || transOut > transOutRes {
		return bucketSwapPlan{}, fmt.Errorf("engine: bucket share exceeds reserve: %w", domain.ErrBucketConservation)
	}

	newLiveIn, err := addU64(liveInRes, liveIn)
	if err != nil {
		return bucketSwapPlan{}, err
	}
	newTransIn, err := addU64(transInRes, transIn)
	if err != nil {
		return bucketSwapPlan{}, err
	}

	pl := bucketSwapPlan{newLive: *live, newTrans: *trans}
	if sideIn == domain.SideAsset {
		pl.newLive.Asset, pl.newLive.Stable = newLiveIn, liveOutRes-liveOut
		pl.newTrans.Asset, pl.newTrans.Stable = newTransIn, transOutRes-transOut
	} else {
		pl.newLive.Stable, pl.newLive.Asset = newLiveIn, liveOutRes-liveOut
		pl.newTrans.Stable, pl.newTrans.Asset = newTransIn, transOutRes-transOut
	}
	return pl, nil
}

func (pl bucketSwapPlan) apply(live, trans *amounts) {
	*live = pl.newLive
	*trans = pl.newTrans
}

// planTotals computes the post-swap side totals.
func planTotals(totalAsset, totalStable uint64, sideIn domain.Side, inAfter, out uint64) (newTotalIn, newTotalOut uint64, err error) {
	totalIn, totalOut := totalAsset, totalStable
	if sideIn == domain.SideStable {
		totalIn, totalOut = totalStable, totalAsset
	}
	if newTotalIn, err = addU64(totalIn, inAfter); err != nil {
		return 0, 0, err
	}
	if newTotalOut, err = subU64(totalOut, out); err != nil {
		return 0, 0, err
	}
	return newTotalIn, newTotalOut, nil
}
