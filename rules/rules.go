//go:build ruleguard

// Package gorules defines linter rules for the signal graph packages.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors reports stdlib error construction in the engine packages.
// Errors there carry a component and a category.
func EnhancedErrors(m dsl.Matcher) {
	m.Match(`fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/(router|port|graph|registry|scheduler|units|monitor|notify|httpserver|engine|backend)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use errors.Newf(...).Component(...).Category(...).Build() instead of fmt.Errorf")
}

// StructuredLogging reports printf style output outside the logger package.
func StructuredLogging(m dsl.Matcher) {
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `fmt.Println($*_)`, `fmt.Printf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) &&
			!m.File().PkgPath.Matches(`/internal/logger`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("use a module logger from logger.Global().Module(...)")
}

// MinMaxBuiltin suggests the builtin min and max.
func MinMaxBuiltin(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b)").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b)").
		Suggest("max($a, $b)")
}

// TimeSince suggests time.Since over time.Now().Sub.
func TimeSince(m dsl.Matcher) {
	m.Match(`time.Now().Sub($t)`).
		Report("use time.Since($t)").
		Suggest("time.Since($t)")
}

// SleepInTests reports fixed sleeps where a polling assertion fits.
func SleepInTests(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("prefer require.Eventually over time.Sleep in tests")
}

// WaitGroupGo suggests sync.WaitGroup.Go over manual Add and Done.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}

// TestifyAssertions suggests the dedicated testify helpers.
func TestifyAssertions(m dsl.Matcher) {
	m.Match(`assert.Nil($t, err)`).
		Report("use assert.NoError($t, err)").
		Suggest("assert.NoError($t, err)")

	m.Match(`require.Nil($t, err)`).
		Report("use require.NoError($t, err)").
		Suggest("require.NoError($t, err)")

	m.Match(`assert.Equal($t, $n, len($x))`, `assert.Equal($t, len($x), $n)`).
		Report("use assert.Len($t, $x, $n)")

	m.Match(`assert.True($t, errors.Is($err, $target))`).
		Report("use assert.ErrorIs($t, $err, $target)").
		Suggest("assert.ErrorIs($t, $err, $target)")
}
