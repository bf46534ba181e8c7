package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/diwise/ecotrack/internal/pkg/application/overview"
	"github.com/diwise/ecotrack/internal/pkg/infrastructure/logging"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/spf13/cobra"
)

func (c *cli) dashboardCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the environmental dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			if !watch {
				d, err := overview.LoadDashboard(ctx, c.client)
				if err != nil {
					return err
				}
				renderDashboard(c.out, d)
				return nil
			}

			return c.watchDashboard(ctx, interval)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep refreshing until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", overview.RefreshInterval, "refresh interval in watch mode")

	return cmd
}

func (c *cli) watchDashboard(ctx context.Context, interval time.Duration) error {
	log := logging.GetFromContext(ctx)

	task := overview.Watch(ctx, c.client, interval, func(d overview.Dashboard, err error) {
		if err != nil {
			log.Error().Err(err).Msg("dashboard refresh failed")
			if d.UpdatedAt.IsZero() {
				return
			}
		}
		renderDashboard(c.out, d)
	})

	<-ctx.Done()
	task.Stop()

	return nil
}

var (
	heading = lipgloss.NewStyle().Bold(true)
	muted   = lipgloss.NewStyle().Faint(true)
)

func renderDashboard(w io.Writer, d overview.Dashboard) {
	fmt.Fprintln(w, heading.Render("Environmental Dashboard"))
	fmt.Fprintln(w, muted.Render("Updated "+d.UpdatedAt.Local().Format(time.DateTime)))
	fmt.Fprintln(w)

	cards := newTable("", "INDICATOR", "COUNT", "AVERAGE", "MIN", "MAX", "UNIT")
	for _, card := range d.Cards {
		cards.add(card.Title, card.Count, decimal(card.Average), decimal(card.Min), decimal(card.Max), card.Unit)
	}
	cards.render(w)

	fmt.Fprintf(w, "\nTotal measurements: %d, overall range %s to %s\n\n", d.Total, decimal(d.Range.Min), decimal(d.Range.Max))

	dist := newTable(heading.Render("Distribution"), "TYPE", "COUNT", "SHARE")
	for _, s := range d.Distribution {
		share := 0.0
		if d.Total > 0 {
			share = float64(s.Count) / float64(d.Total) * 100
		}
		dist.add(s.Name, s.Count, strconv.FormatFloat(share, 'f', 1, 64)+"%")
	}
	dist.render(w)
	fmt.Fprintln(w)

	renderBars(w, "CO2 trend (daily)", d.CO2Trend)
	fmt.Fprintln(w)
	renderBars(w, "Air quality by zone", d.AirByZone)
	fmt.Fprintln(w)

	recent := newTable(heading.Render("Recent measurements"), "TIMESTAMP", "TYPE", "VALUE", "ZONE")
	zoneNames := map[int]string{}
	for _, z := range d.Zones {
		zoneNames[z.ID] = z.Name
	}
	for _, i := range d.Recent {
		zone, ok := zoneNames[i.ZoneID]
		if !ok {
			zone = "#" + strconv.Itoa(i.ZoneID)
		}
		recent.add(i.Timestamp.Local().Format(time.DateTime), overview.DisplayName(i.Type), decimal(i.Value)+" "+i.Unit, zone)
	}
	recent.render(w)
}

const barWidth = 40

func renderBars(w io.Writer, title string, points []types.Point) {
	fmt.Fprintln(w, heading.Render(title))

	if len(points) == 0 {
		fmt.Fprintln(w, "(no data)")
		return
	}

	labelWidth, peak := 0, 0.0
	for _, p := range points {
		labelWidth = max(labelWidth, lipgloss.Width(p.Name))
		peak = max(peak, p.Value)
	}

	label := lipgloss.NewStyle().Width(labelWidth + 1)
	for _, p := range points {
		n := 0
		if peak > 0 {
			n = int(p.Value / peak * barWidth)
		}
		fmt.Fprintf(w, "%s%s %s\n", label.Render(p.Name), strings.Repeat("#", max(n, 0)), decimal(p.Value))
	}
}

func (c *cli) mapCmd() *cobra.Command {
	var indicatorType string

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Show zones with their position and latest readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := validType(indicatorType, true); err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			m, err := overview.LoadMap(ctx, c.client, types.IndicatorType(indicatorType))
			if err != nil {
				return err
			}

			renderMap(c.out, m)
			return nil
		},
	}

	cmd.Flags().StringVar(&indicatorType, "type", "", "only consider indicators of this type")

	return cmd
}

func renderMap(w io.Writer, m overview.Map) {
	fmt.Fprintf(w, "Map centered on %s\n\n", m.Center)

	t := newTable("", "ZONE", "POSITION", "STATUS", "MEASUREMENTS", "AVERAGE", "LATEST")
	for _, mk := range m.Markers {
		status := lipgloss.NewStyle().Foreground(lipgloss.Color(mk.Color)).Render(colorName(mk.Color))
		t.add(mk.Zone.Name, mk.Position, status, mk.Stats.Total, decimal(mk.Stats.Average), latest(mk.Stats))
	}
	t.render(w)

	if len(m.Excluded) > 0 {
		names := make([]string, 0, len(m.Excluded))
		for _, z := range m.Excluded {
			names = append(names, z.Name)
		}
		fmt.Fprintf(w, "\n%s\n", muted.Render("Not shown, missing or invalid coordinates: "+strings.Join(names, ", ")))
	}
}

func colorName(color string) string {
	switch color {
	case overview.ColorGood:
		return "good"
	case overview.ColorModerate:
		return "moderate"
	case overview.ColorBad:
		return "poor"
	case overview.ColorNoData:
		return "no data"
	default:
		return "no air quality"
	}
}

func latest(s overview.ZoneStats) string {
	parts := []string{}
	for _, t := range types.IndicatorTypes {
		if i, ok := s.Latest[t]; ok {
			parts = append(parts, fmt.Sprintf("%s %s %s", t, decimal(i.Value), i.Unit))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func decimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
