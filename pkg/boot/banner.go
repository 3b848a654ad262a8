// Copyright 2024-2026 Aiku AI

package boot

import (
	"context"

	"github.com/fatih/color"
)

func (s *Sequencer) printBanner(_ context.Context) error {
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	if _, err := title.Fprintf(s.p.Banner, "%s %s\n", s.p.Name, s.p.Version); err != nil {
		return err
	}
	_, err := dim.Fprintln(s.p.Banner, "Mattermost bot")
	return err
}
