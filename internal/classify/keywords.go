package classify

import "github.com/p-n-ai/pai-papers/internal/curriculum"

// TopicKeywords associates a topic with the keywords that detect it.
type TopicKeywords struct {
	Topic    string
	Keywords []string
}

// Table maps a level to its topics in detection order.
type Table map[curriculum.Level][]TopicKeywords

// Clone returns a deep copy of t.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for level, topics := range t {
		cp := make([]TopicKeywords, len(topics))
		for i, tk := range topics {
			cp[i] = TopicKeywords{Topic: tk.Topic, Keywords: append([]string(nil), tk.Keywords...)}
		}
		out[level] = cp
	}
	return out
}

// DefaultTable returns the built-in keyword table for mathematics papers.
func DefaultTable() Table {
	return defaultTable.Clone()
}

var defaultTable = Table{
	curriculum.LevelIGCSE: {
		{"Number", []string{"prime factor", "highest common factor", "lowest common multiple", "standard form", "surd", "recurring decimal", "percentage", "upper bound", "lower bound"}},
		{"Ratio and Proportion", []string{"ratio", "proportional", "direct proportion", "inverse proportion"}},
		{"Algebra", []string{"simplify", "expand", "factorise", "inequalit", "simultaneous", "rearrange", "make x the subject", "algebraic fraction"}},
		{"Quadratics", []string{"quadratic", "completing the square", "x²", "x^2"}},
		{"Sequences", []string{"sequence", "nth term", "term-to-term"}},
		{"Functions", []string{"f(x)", "inverse function", "composite function", "fg(x)", "g(x)"}},
		{"Graphs", []string{"gradient", "y-intercept", "straight line", "draw the graph", "sketch the graph"}},
		{"Geometry", []string{"angle", "polygon", "parallel", "circle theorem", "congruent", "similar triangle", "tangent"}},
		{"Mensuration", []string{"surface area", "volume", "perimeter", "arc length", "sector", "area of"}},
		{"Trigonometry", []string{"trigonometr", "sine rule", "cosine rule", "pythagoras", "bearing"}},
		{"Vectors", []string{"vector"}},
		{"Transformations", []string{"reflection", "rotation", "enlargement", "translation"}},
		{"Probability", []string{"probability", "tree diagram", "venn diagram", "at random"}},
		{"Statistics", []string{"mean", "median", "frequency", "histogram", "interquartile", "box plot"}},
		{"Calculus", []string{"differentiate", "dy/dx", "stationary point", "turning point"}},
	},
	curriculum.LevelASLevel: {
		{"Quadratics", []string{"quadratic", "discriminant", "completing the square"}},
		{"Functions", []string{"domain", "range of f", "inverse", "composite", "f(x)"}},
		{"Coordinate Geometry", []string{"perpendicular", "midpoint", "equation of the line", "equation of the circle", "gradient of the line"}},
		{"Circular Measure", []string{"radian", "arc length", "sector"}},
		{"Trigonometry", []string{"trigonometr", "sin x", "cos x", "tan x", "sin θ", "cos θ", "tan θ", "identity"}},
		{"Series", []string{"binomial", "arithmetic progression", "geometric progression", "sum to infinity", "series"}},
		{"Differentiation", []string{"differentiate", "dy/dx", "derivative", "stationary point", "gradient of the curve", "normal to the curve"}},
		{"Integration", []string{"integrate", "integral", "area under", "∫"}},
		{"Vectors", []string{"vector"}},
		{"Kinematics", []string{"velocity", "acceleration", "displacement", "particle"}},
		{"Forces and Equilibrium", []string{"force", "friction", "equilibrium", "tension"}},
		{"Probability", []string{"probability", "independent events", "mutually exclusive"}},
		{"Statistics", []string{"standard deviation", "variance", "binomial distribution", "normal distribution", "mean"}},
	},
	curriculum.LevelALevel: {
		{"Algebra", []string{"partial fraction", "modulus", "polynomial", "factor theorem", "remainder theorem"}},
		{"Logarithms and Exponentials", []string{"logarithm", "ln x", "ln(", "exponential", "e^"}},
		{"Trigonometry", []string{"trigonometr", "sec", "cosec", "cot", "compound angle", "double angle", "r cos", "r sin"}},
		{"Differentiation", []string{"differentiate", "dy/dx", "derivative", "chain rule", "product rule", "quotient rule", "implicit"}},
		{"Integration", []string{"integrate", "integral", "by parts", "substitution", "∫"}},
		{"Numerical Methods", []string{"iteration", "iterative", "newton-raphson", "root lies", "trapezium rule", "change of sign"}},
		{"Vectors", []string{"vector", "position vector", "plane"}},
		{"Differential Equations", []string{"differential equation", "dy/dt", "dx/dt", "general solution", "particular solution"}},
		{"Complex Numbers", []string{"complex number", "argand", "modulus-argument", "conjugate"}},
		{"Series", []string{"binomial expansion", "geometric progression", "arithmetic progression", "sequence"}},
		{"Mechanics", []string{"velocity", "acceleration", "force", "momentum", "projectile"}},
		{"Statistics", []string{"hypothesis test", "normal distribution", "poisson", "significance level", "probability"}},
	},
}
