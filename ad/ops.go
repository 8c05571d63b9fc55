package ad

import "math"

func (t *Tape) Add(a, b Real) Real { return t.push(a.V+b.V, a, 1, b, 1) }
func (t *Tape) Sub(a, b Real) Real { return t.push(a.V-b.V, a, 1, b, -1) }
func (t *Tape) Mul(a, b Real) Real { return t.push(a.V*b.V, a, b.V, b, a.V) }
func (t *Tape) Neg(a Real) Real    { return t.push(-a.V, a, -1, Real{}, 0) }

func (t *Tape) Div(a, b Real) Real {
	q := a.V / b.V
	return t.push(q, a, 1/b.V, b, -q/b.V)
}

// Scale returns c*a for a constant c.
func (t *Tape) Scale(a Real, c float64) Real { return t.push(c*a.V, a, c, Real{}, 0) }

// Shift returns a+c for a constant c.
func (t *Tape) Shift(a Real, c float64) Real { return t.push(a.V+c, a, 1, Real{}, 0) }

func (t *Tape) Sq(a Real) Real { return t.push(a.V*a.V, a, 2*a.V, Real{}, 0) }

func (t *Tape) Sqrt(a Real) Real {
	s := math.Sqrt(a.V)
	return t.push(s, a, 0.5/s, Real{}, 0)
}

func (t *Tape) Exp(a Real) Real {
	e := math.Exp(a.V)
	return t.push(e, a, e, Real{}, 0)
}

func (t *Tape) Sin(a Real) Real { return t.push(math.Sin(a.V), a, math.Cos(a.V), Real{}, 0) }
func (t *Tape) Cos(a Real) Real { return t.push(math.Cos(a.V), a, -math.Sin(a.V), Real{}, 0) }

// Pow raises a to a constant power.
func (t *Tape) Pow(a Real, p float64) Real {
	v := math.Pow(a.V, p)
	return t.push(v, a, p*math.Pow(a.V, p-1), Real{}, 0)
}

// Abs uses the sign of a as its derivative, zero at the kink.
func (t *Tape) Abs(a Real) Real {
	var s float64
	switch {
	case a.V > 0:
		s = 1
	case a.V < 0:
		s = -1
	}
	return t.push(math.Abs(a.V), a, s, Real{}, 0)
}

func (t *Tape) Hypot(a, b Real) Real {
	h := math.Hypot(a.V, b.V)
	if h == 0 {
		return t.push(0, a, 0, b, 0)
	}
	return t.push(h, a, a.V/h, b, b.V/h)
}

// Axpy returns alpha*x + y.
func (t *Tape) Axpy(alpha float64, x, y Real) Real {
	return t.push(alpha*x.V+y.V, x, alpha, y, 1)
}

func (t *Tape) Sum(rs ...Real) (s Real) {
	for _, r := range rs {
		s = t.Add(s, r)
	}
	return
}

func (t *Tape) Dot(a, b []Real) (s Real) {
	for i := range a {
		s = t.Add(s, t.Mul(a[i], b[i]))
	}
	return
}

// DotC is the dot product of active values with constant weights.
func (t *Tape) DotC(a []Real, w []float64) (s Real) {
	for i := range a {
		s = t.Axpy(w[i], a[i], s)
	}
	return
}
