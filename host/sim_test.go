// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const simScript = `10 double
led_on
quit
sub double
  dup plus
return
`

func TestSimulator(t *testing.T) {
	h, _ := newHost(t)
	path := writeScript(t, "double.mss", simScript)

	out := run(h, "sim step")
	require.Contains(t, out, "No script is loaded.")

	out = run(h,
		"compile "+path,
		"breakpoint add $5",
		"breakpoint list",
		"sim run",
		"sim state",
	)
	require.Contains(t, out, "Breakpoint added at $0005 (line 5: dup plus).")
	require.Contains(t, out, "   $0005 (line 5: dup plus)")
	require.Contains(t, out, "Breakpoint hit at $0005 (line 5: dup plus).")
	require.Contains(t, out, "PC:          $0005 (line 5: dup plus)")
	require.Contains(t, out, "Stack:       10\n")
	require.Contains(t, out, "Call stack:  $0003\n")

	out = run(h, "sim step 3", "sim run", "sim state")
	require.Contains(t, out, "led_on")
	require.Contains(t, out, "stack: 20")
	require.Contains(t, out, "Script done after 2 instructions.")
	require.Contains(t, out, "LED:         on")
	require.Contains(t, out, "Done:        true")

	out = run(h, "breakpoint disable 5", "sim reset", "sim run")
	require.Contains(t, out, "Breakpoint at $0005 disabled.")
	require.Contains(t, out, "Simulator reset.")
	require.Contains(t, out, "Script done after 7 instructions.")
	require.NotContains(t, out, "Breakpoint hit")

	out = run(h, "breakpoint remove 5", "breakpoint list", "breakpoint remove 5")
	require.Contains(t, out, "Breakpoint at $0005 removed.")
	require.Contains(t, out, "No breakpoints set.")
	require.Contains(t, out, "No breakpoint at '5'.")
}

func TestSimulatorFault(t *testing.T) {
	h, _ := newHost(t)
	path := writeScript(t, "demo.mss", demoScript)

	out := run(h, "compile "+path, "sim run", "sim step")
	require.Contains(t, out, "Script halted at $0003 (line 4: return): script call stack.")
	require.NotNil(t, h.machine)

	// Compiling again discards the simulated machine.
	run(h, "compile "+path)
	require.Nil(t, h.machine)
}
