// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// runServers prints the configured server registry with install status.
func runServers(cmd *cobra.Command, args []string) error {
	names := servers.Names()
	sort.Strings(names)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCOMMAND\tEXTENSIONS\tINSTALLED")
	for _, name := range names {
		cfg, _ := servers.Get(name)

		installed := "yes"
		if _, err := exec.LookPath(cfg.Command); err != nil {
			installed = "no"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			cfg.Name,
			cfg.Command,
			strings.Join(cfg.Extensions, ","),
			installed,
		)
	}
	return w.Flush()
}
