package linsolve

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

type Settings struct {
	RelTol        float64 // relative to the initial residual norm
	AbsTol        float64
	MaxIters      int
	Restart       int
	PrintInterval int // zero is silent
	// Dot is the inner product behind every norm and projection, floats.Dot
	// when nil. A partitioned reduction keeps the sums in a fixed order.
	Dot func(a, b []float64) float64
}

func DefaultSettings() Settings {
	return Settings{RelTol: 1e-6, AbsTol: 1e-14, MaxIters: 1000, Restart: 200}
}

type Result struct {
	Iterations   int
	InitialNorm  float64
	ResidualNorm float64
	Converged    bool
	History      []float64
}

// Status is 0 when converged, 1 otherwise.
func (r Result) Status() int {
	if r.Converged {
		return 0
	}
	return 1
}

/*
FGMRES solves A x = b with restarted flexible GMRES, right preconditioned by
M (nil for none). x holds the initial guess on entry and the solution on exit.
Non-convergence is reported in the Result; errors are reserved for
non-finite values and failures of the operator or preconditioner.
*/
func FGMRES(A Operator, M Preconditioner, b, x []float64, s Settings) (res Result, err error) {
	var (
		n = A.Dim()
		m = s.Restart
	)
	if len(b) != n || len(x) != n {
		err = fmt.Errorf("%w: operator of order %d, len(b) = %d, len(x) = %d", ErrDimension, n, len(b), len(x))
		return
	}
	if M == nil {
		M = Identity{}
	}
	if m < 1 || m > n {
		m = n
	}
	if s.MaxIters < 1 {
		s.MaxIters = n
	}
	dot := s.Dot
	if dot == nil {
		dot = floats.Dot
	}
	norm := func(v []float64) float64 { return math.Sqrt(dot(v, v)) }
	var (
		r      = make([]float64, n)
		w      = make([]float64, n)
		V      = make([][]float64, m+1)
		Z      = make([][]float64, m)
		H      = make([][]float64, m+1)
		cs, sn = make([]float64, m), make([]float64, m)
		g      = make([]float64, m+1)
		y      = make([]float64, m)
	)
	for i := range V {
		V[i] = make([]float64, n)
		H[i] = make([]float64, m)
	}
	for i := range Z {
		Z[i] = make([]float64, n)
	}
	residual := func() (beta float64, err error) {
		if err = A.Apply(r, x); err != nil {
			return
		}
		floats.SubTo(r, b, r)
		beta = norm(r)
		if math.IsNaN(beta) || math.IsInf(beta, 0) {
			err = fmt.Errorf("%w: residual norm %g", ErrNonFinite, beta)
		}
		return
	}
	beta, err := residual()
	if err != nil {
		return
	}
	res.InitialNorm, res.ResidualNorm = beta, beta
	res.History = append(res.History, beta)
	tol := math.Max(s.RelTol*beta, s.AbsTol)
	if s.PrintInterval > 0 {
		fmt.Printf("Main iteration %4d KSP Residual norm %13.6e\n", 0, beta)
	}
	for beta > tol && res.Iterations < s.MaxIters {
		floats.ScaleTo(V[0], 1/beta, r)
		for i := range g {
			g[i] = 0
		}
		g[0] = beta
		var k int
		for j := 0; j < m && res.Iterations < s.MaxIters; j++ {
			if err = M.Solve(Z[j], V[j]); err != nil {
				return
			}
			if err = A.Apply(w, Z[j]); err != nil {
				return
			}
			for i := 0; i <= j; i++ {
				H[i][j] = dot(w, V[i])
				floats.AddScaled(w, -H[i][j], V[i])
			}
			H[j+1][j] = norm(w)
			if math.IsNaN(H[j+1][j]) || math.IsInf(H[j+1][j], 0) {
				err = fmt.Errorf("%w: Arnoldi norm %g at iteration %d", ErrNonFinite, H[j+1][j], res.Iterations)
				return
			}
			breakdown := H[j+1][j] == 0
			if !breakdown {
				floats.ScaleTo(V[j+1], 1/H[j+1][j], w)
			}
			for i := 0; i < j; i++ {
				t := cs[i]*H[i][j] + sn[i]*H[i+1][j]
				H[i+1][j] = -sn[i]*H[i][j] + cs[i]*H[i+1][j]
				H[i][j] = t
			}
			denom := math.Hypot(H[j][j], H[j+1][j])
			if denom == 0 {
				cs[j], sn[j] = 1, 0
			} else {
				cs[j], sn[j] = H[j][j]/denom, H[j+1][j]/denom
			}
			H[j][j], H[j+1][j] = denom, 0
			g[j+1] = -sn[j] * g[j]
			g[j] = cs[j] * g[j]
			res.Iterations++
			k = j + 1
			est := math.Abs(g[j+1])
			res.History = append(res.History, est)
			if s.PrintInterval > 0 && res.Iterations%s.PrintInterval == 0 {
				fmt.Printf("Main iteration %4d KSP Residual norm %13.6e\n", res.Iterations, est)
			}
			if est <= tol || breakdown {
				break
			}
		}
		// back substitution on the k x k triangle, skipping zero pivots
		for i := k - 1; i >= 0; i-- {
			y[i] = g[i]
			for l := i + 1; l < k; l++ {
				y[i] -= H[i][l] * y[l]
			}
			if H[i][i] != 0 {
				y[i] /= H[i][i]
			} else {
				y[i] = 0
			}
		}
		for i := 0; i < k; i++ {
			floats.AddScaled(x, y[i], Z[i])
		}
		if beta, err = residual(); err != nil {
			return
		}
		res.ResidualNorm = beta
		if k == 0 {
			break
		}
	}
	res.Converged = beta <= tol
	if s.PrintInterval > 0 {
		fmt.Printf("Total iterations %d, initial residual %13.6e, final residual %13.6e, converged: %v\n",
			res.Iterations, res.InitialNorm, res.ResidualNorm, res.Converged)
	}
	return
}
