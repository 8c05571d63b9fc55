package utils

import (
	"runtime"
	"sync"
)

type PartitionMap struct {
	MaxIndex       int // MaxIndex is partitioned into ParallelDegree partitions
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	if ParallelDegree < 1 {
		ParallelDegree = 1
	}
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// DefaultParallelDegree limits the partition count to the CPU count and to the
// number of items, so no partition is empty unless maxIndex is zero.
func DefaultParallelDegree(ProcLimit, maxIndex int) (np int) {
	np = runtime.NumCPU()
	if ProcLimit > 0 && ProcLimit < np {
		np = ProcLimit
	}
	if maxIndex < np {
		np = maxIndex
	}
	if np < 1 {
		np = 1
	}
	return
}

func (pm *PartitionMap) GetBucket(kDim int) (bucketNum, min, max int) {
	_, bucketNum, min, max = pm.getBucketWithTryCount(kDim)
	return
}

func (pm *PartitionMap) getBucketWithTryCount(kDim int) (tryCount, bucketNum, min, max int) {
	// Initial guess
	bucketNum = int(float64(pm.ParallelDegree*kDim) / float64(pm.MaxIndex))
	for !(pm.Partitions[bucketNum][0] <= kDim && pm.Partitions[bucketNum][1] > kDim) {
		if pm.Partitions[bucketNum][0] > kDim {
			bucketNum--
		} else {
			bucketNum++
		}
		if bucketNum == -1 || bucketNum == pm.ParallelDegree {
			return 0, -1, 0, 0
		}
		tryCount++
	}
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketDimension(bn int) (kMax int) {
	if bn == -1 {
		kMax = pm.MaxIndex
		return
	}
	var (
		k1, k2 = pm.GetBucketRange(bn)
	)
	kMax = k2 - k1
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	// This routine splits one dimension into c.ParallelDegree pieces, with a maximum imbalance of one item
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}

// ParallelFor runs fn once per partition, each goroutine owning [kMin, kMax).
func (pm *PartitionMap) ParallelFor(fn func(bn, kMin, kMax int)) {
	wg := sync.WaitGroup{}
	for np := 0; np < pm.ParallelDegree; np++ {
		wg.Add(1)
		go func(np int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(np)
			fn(np, kMin, kMax)
		}(np)
	}
	wg.Wait()
}

// ReduceSum is the collective sum used by every derivative assembly: each
// partition accumulates its own range, then the partials are added in
// partition order, so the result is reproducible for a fixed ParallelDegree.
func (pm *PartitionMap) ReduceSum(term func(k int) float64) (sum float64) {
	partials := make([]float64, pm.ParallelDegree)
	pm.ParallelFor(func(bn, kMin, kMax int) {
		var s float64
		for k := kMin; k < kMax; k++ {
			s += term(k)
		}
		partials[bn] = s
	})
	for _, s := range partials {
		sum += s
	}
	return
}

func (pm *PartitionMap) Dot(a, b []float64) float64 {
	return pm.ReduceSum(func(k int) float64 { return a[k] * b[k] })
}

// ReduceVec sums per-item vector contributions into dst.
func (pm *PartitionMap) ReduceVec(dst []float64, term func(k int, acc []float64)) {
	partials := make([][]float64, pm.ParallelDegree)
	pm.ParallelFor(func(bn, kMin, kMax int) {
		acc := make([]float64, len(dst))
		for k := kMin; k < kMax; k++ {
			term(k, acc)
		}
		partials[bn] = acc
	})
	for i := range dst {
		dst[i] = 0
	}
	for _, acc := range partials {
		for i, v := range acc {
			dst[i] += v
		}
	}
}
