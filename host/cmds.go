// Copyright 2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package host

import "github.com/beevik/cmd"

// A command describes a host command. The description is kept next to
// the command tree so help can be displayed without walking the tree.
type command struct {
	name        string
	brief       string
	description string
	usage       string
	handler     func(*Host, cmd.Selection) error
}

// A group is a subtree of related commands.
type group struct {
	name     string
	brief    string
	commands []*command
}

var (
	cmds     *cmd.Tree
	commands []*command
	groups   []*group
)

func addCommand(t *cmd.Tree, c *command) {
	t.AddCommand(cmd.CommandDescriptor{
		Name:        c.name,
		Brief:       c.brief,
		Description: c.description,
		Usage:       c.usage,
		Data:        c,
	})
}

func addGroup(root *cmd.Tree, g *group) {
	t := root.AddSubtree(cmd.TreeDescriptor{Name: g.name, Brief: g.brief})
	for _, c := range g.commands {
		addCommand(t, c)
	}
	groups = append(groups, g)
}

func init() {
	root := cmd.NewTree(cmd.TreeDescriptor{Name: "maestro"})

	commands = []*command{
		{
			name:        "help",
			description: "Display help for a command.",
			usage:       "help [<command>]",
			handler:     (*Host).cmdHelp,
		},
		{
			name:  "checksum",
			brief: "Display the script checksum",
			description: "Display the size of the loaded script and the" +
				" checksum the controller computes over it.",
			usage:   "checksum",
			handler: (*Host).cmdChecksum,
		},
		{
			name:  "compile",
			brief: "Compile a script file",
			description: "Compile the specified script file for the current" +
				" variant, producing a compiled image (.msc) and listing" +
				" (.lst) next to it. The compiled script becomes the loaded" +
				" script. If you want verbose output, specify true as a" +
				" second parameter.",
			usage:   "compile <filename> [<verbose>]",
			handler: (*Host).cmdCompile,
		},
		{
			name:  "disassemble",
			brief: "Disassemble the loaded script",
			description: "Disassemble the script memory image of the loaded" +
				" script, starting at an optional address.",
			usage:   "disassemble [<address>]",
			handler: (*Host).cmdDisassemble,
		},
		{
			name:  "list",
			brief: "List script source lines",
			description: "Display source lines of the loaded script" +
				" together with the address of the code each line generated." +
				" The first line and number of lines may be specified.",
			usage:   "list [<line>] [<count>]",
			handler: (*Host).cmdList,
		},
		{
			name:  "load",
			brief: "Load a compiled script image",
			description: "Load a compiled script image (.msc) from disk. If" +
				" the file is a script source file, it is compiled first.",
			usage:   "load <filename>",
			handler: (*Host).cmdLoad,
		},
		{
			name:        "quit",
			brief:       "Quit the program",
			description: "Quit the program.",
			usage:       "quit",
			handler:     (*Host).cmdQuit,
		},
		{
			name:  "set",
			brief: "Set a configuration variable",
			description: "Set the value of a configuration variable. Type the set" +
				" command without a variable name or value to display the current" +
				" values of all configuration variables.",
			usage:   "set <var> <value>",
			handler: (*Host).cmdSet,
		},
		{
			name:  "subroutines",
			brief: "List subroutines of the loaded script",
			description: "Display the subroutines declared by the loaded" +
				" script, their call opcodes and entry addresses.",
			usage:   "subroutines",
			handler: (*Host).cmdSubroutines,
		},
		{
			name:  "upload",
			brief: "Upload the loaded script",
			description: "Upload the loaded script into the script memory of" +
				" the open device and restart the controller.",
			usage:   "upload",
			handler: (*Host).cmdUpload,
		},
		{
			name:  "variables",
			brief: "Display script variables",
			description: "Display the execution state of the script running" +
				" on the open device.",
			usage:   "variables",
			handler: (*Host).cmdVariables,
		},
	}
	for _, c := range commands {
		addCommand(root, c)
	}

	addGroup(root, &group{
		name:  "device",
		brief: "Device commands",
		commands: []*command{
			{
				name:  "open",
				brief: "Open a device",
				description: "Open the first attached Maestro controller, or the" +
					" controller with the requested serial number.",
				usage:   "device open [<serial>]",
				handler: (*Host).cmdDeviceOpen,
			},
			{
				name:        "close",
				brief:       "Close the device",
				description: "Close the open device.",
				usage:       "device close",
				handler:     (*Host).cmdDeviceClose,
			},
			{
				name:        "status",
				brief:       "Display device status",
				description: "Display the variant, serial number and state of the open device.",
				usage:       "device status",
				handler:     (*Host).cmdDeviceStatus,
			},
		},
	})

	addGroup(root, &group{
		name:  "script",
		brief: "Script control commands",
		commands: []*command{
			{
				name:        "stop",
				brief:       "Stop the script",
				description: "Stop the script running on the device.",
				usage:       "script stop",
				handler:     (*Host).cmdScriptStop,
			},
			{
				name:        "step",
				brief:       "Step the script",
				description: "Execute a single instruction of a stopped script.",
				usage:       "script step",
				handler:     (*Host).cmdScriptStep,
			},
			{
				name:        "run",
				brief:       "Resume the script",
				description: "Resume a stopped script.",
				usage:       "script run",
				handler:     (*Host).cmdScriptRun,
			},
			{
				name:  "restart",
				brief: "Restart the script",
				description: "Restart the script from the beginning, or at the" +
					" named subroutine. A value to push onto the stack may be" +
					" passed to the subroutine.",
				usage:   "script restart [<subroutine> [<value>]]",
				handler: (*Host).cmdScriptRestart,
			},
		},
	})

	addGroup(root, &group{
		name:  "errors",
		brief: "Error commands",
		commands: []*command{
			{
				name:        "show",
				brief:       "Show latched errors",
				description: "Display the error flags latched by the device.",
				usage:       "errors show",
				handler:     (*Host).cmdErrorsShow,
			},
			{
				name:        "clear",
				brief:       "Clear latched errors",
				description: "Clear the error flags latched by the device.",
				usage:       "errors clear",
				handler:     (*Host).cmdErrorsClear,
			},
		},
	})

	addGroup(root, &group{
		name:  "sim",
		brief: "Simulator commands",
		commands: []*command{
			{
				name:  "reset",
				brief: "Reset the simulator",
				description: "Load the script into a fresh simulated machine" +
					" of the script's variant. Breakpoints are kept.",
				usage:   "sim reset",
				handler: (*Host).cmdSimReset,
			},
			{
				name:  "step",
				brief: "Step the simulator",
				description: "Execute one or more instructions in the simulator" +
					" and display the next instruction.",
				usage:   "sim step [<count>]",
				handler: (*Host).cmdSimStep,
			},
			{
				name:  "run",
				brief: "Run the simulator",
				description: "Run the simulated script until it finishes, an" +
					" error occurs, a breakpoint is hit or the optional" +
					" instruction limit is reached.",
				usage:   "sim run [<limit>]",
				handler: (*Host).cmdSimRun,
			},
			{
				name:  "state",
				brief: "Display simulator state",
				description: "Display the registers, stacks and device outputs" +
					" of the simulated machine.",
				usage:   "sim state",
				handler: (*Host).cmdSimState,
			},
		},
	})

	addGroup(root, &group{
		name:  "breakpoint",
		brief: "Breakpoint commands",
		commands: []*command{
			{
				name:        "list",
				brief:       "List breakpoints",
				description: "List all simulator breakpoints.",
				usage:       "breakpoint list",
				handler:     (*Host).cmdBreakpointList,
			},
			{
				name:  "add",
				brief: "Add a breakpoint",
				description: "Add a breakpoint at the specified script address." +
					" The simulator stops when the program counter reaches it.",
				usage:   "breakpoint add <address>",
				handler: (*Host).cmdBreakpointAdd,
			},
			{
				name:        "remove",
				brief:       "Remove a breakpoint",
				description: "Remove the breakpoint at the specified address.",
				usage:       "breakpoint remove <address>",
				handler:     (*Host).cmdBreakpointRemove,
			},
			{
				name:        "enable",
				brief:       "Enable a breakpoint",
				description: "Enable a previously disabled breakpoint.",
				usage:       "breakpoint enable <address>",
				handler:     (*Host).cmdBreakpointEnable,
			},
			{
				name:        "disable",
				brief:       "Disable a breakpoint",
				description: "Disable a breakpoint without removing it.",
				usage:       "breakpoint disable <address>",
				handler:     (*Host).cmdBreakpointDisable,
			},
		},
	})

	// Shortcuts
	root.AddShortcut("?", "help")
	root.AddShortcut("c", "compile")
	root.AddShortcut("d", "disassemble")
	root.AddShortcut("l", "list")
	root.AddShortcut("u", "upload")
	root.AddShortcut("v", "variables")
	root.AddShortcut("do", "device open")
	root.AddShortcut("dc", "device close")
	root.AddShortcut("ds", "device status")
	root.AddShortcut("ss", "script stop")
	root.AddShortcut("st", "script step")
	root.AddShortcut("sr", "script restart")
	root.AddShortcut("n", "sim step")
	root.AddShortcut("r", "sim run")
	root.AddShortcut("b", "breakpoint add")
	root.AddShortcut("bl", "breakpoint list")

	cmds = root
}
