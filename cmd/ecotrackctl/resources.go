package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/diwise/ecotrack/internal/pkg/application/geo"
	"github.com/diwise/ecotrack/internal/pkg/application/resource"
	"github.com/diwise/ecotrack/pkg/types"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

type listFlags struct {
	sort  string
	order string
	skip  int
	limit int
}

func (l *listFlags) register(cmd *cobra.Command, sort string, order resource.Direction) {
	cmd.Flags().StringVar(&l.sort, "sort", sort, "field to sort by")
	cmd.Flags().StringVar(&l.order, "order", string(order), "sort order, asc or desc")
	cmd.Flags().IntVar(&l.skip, "skip", 0, "number of items to skip")
	cmd.Flags().IntVar(&l.limit, "limit", resource.DefaultLimit, "page size")
}

func (l *listFlags) query() (resource.Query, error) {
	order := resource.Direction(strings.ToLower(l.order))
	if order != resource.Asc && order != resource.Desc {
		return resource.Query{}, fmt.Errorf("invalid sort order %q, use asc or desc", l.order)
	}

	opts := []resource.QueryOption{resource.Limit(l.limit)}
	if l.sort != "" {
		opts = append(opts, resource.SortedBy(l.sort, order))
	}

	q := resource.NewQuery(opts...)
	q.SetSkip(l.skip)
	return q, nil
}

func (c *cli) indicatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "indicators",
		Aliases: []string{"indicator", "ind"},
		Short:   "Manage environmental indicators",
	}

	cmd.AddCommand(c.indicatorsListCmd(), c.indicatorsCreateCmd(), c.indicatorsUpdateCmd(), c.indicatorsDeleteCmd())

	return cmd
}

func (c *cli) indicatorsListCmd() *cobra.Command {
	var (
		lf                            listFlags
		indicatorType, zone, from, to string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List indicators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := validType(indicatorType, true); err != nil {
				return err
			}

			q, err := lf.query()
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			skip := q.Skip()
			q.SetFilter("type", indicatorType)
			q.SetFilter("zone_id", zone)
			q.SetFilter("from", from)
			q.SetFilter("to", to)
			q.SetSkip(skip)

			state, err := resource.NewFetcher(c.client.ListIndicators, q).Refresh(ctx)
			if err != nil {
				return err
			}

			t := newTable("", "ID", "TYPE", "VALUE", "UNIT", "TIMESTAMP", "ZONE", "SOURCE")
			for _, i := range state.Envelope.Items {
				t.add(i.ID, i.Type, formatValue(i.Value), i.Unit, i.Timestamp.Format(time.RFC3339), i.ZoneID, i.SourceID)
			}
			t.render(c.out)
			printPaging(c.out, state.Envelope)

			return nil
		},
	}

	lf.register(cmd, "timestamp", resource.Desc)
	cmd.Flags().StringVar(&indicatorType, "type", "", "only indicators of this type")
	cmd.Flags().StringVar(&zone, "zone", "", "only indicators of this zone id")
	cmd.Flags().StringVar(&from, "from", "", "only indicators at or after this time")
	cmd.Flags().StringVar(&to, "to", "", "only indicators at or before this time")

	return cmd
}

type indicatorFlags struct {
	indicatorType string
	value         float64
	unit          string
	timestamp     string
	zone          int
	source        int
	extra         map[string]string
}

func (f *indicatorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.indicatorType, "type", "", "indicator type ("+typeList()+")")
	cmd.Flags().Float64Var(&f.value, "value", 0, "measured value")
	cmd.Flags().StringVar(&f.unit, "unit", "", "unit of the value")
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "time of the measurement (RFC 3339), defaults to now")
	cmd.Flags().IntVar(&f.zone, "zone", 0, "zone id")
	cmd.Flags().IntVar(&f.source, "source", 0, "source id")
	cmd.Flags().StringToStringVar(&f.extra, "extra", nil, "extra data as key=value pairs")
}

func (f *indicatorFlags) extraData() map[string]any {
	if len(f.extra) == 0 {
		return nil
	}
	return lo.MapValues(f.extra, func(v string, _ string) any { return v })
}

func (c *cli) indicatorsCreateCmd() *cobra.Command {
	var f indicatorFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an indicator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := validType(f.indicatorType, false); err != nil {
				return err
			}

			ts := time.Now().UTC()
			if f.timestamp != "" {
				var err error
				if ts, err = time.Parse(time.RFC3339, f.timestamp); err != nil {
					return fmt.Errorf("invalid timestamp: %w", err)
				}
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			m := c.indicatorMutator(false)
			created, err := m.Create(ctx, types.IndicatorCreate{
				Type:      types.IndicatorType(f.indicatorType),
				Value:     f.value,
				Unit:      f.unit,
				Timestamp: ts,
				ZoneID:    f.zone,
				SourceID:  f.source,
				ExtraData: f.extraData(),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Created indicator %d (%s %s %s)\n", created.ID, created.Type, formatValue(created.Value), created.Unit)
			return nil
		},
	}

	f.register(cmd)
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("value")
	cmd.MarkFlagRequired("zone")
	cmd.MarkFlagRequired("source")

	return cmd
}

func (c *cli) indicatorsUpdateCmd() *cobra.Command {
	var f indicatorFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			u := types.IndicatorUpdate{}
			changed := cmd.Flags().Changed

			if changed("type") {
				if err := validType(f.indicatorType, false); err != nil {
					return err
				}
				u.Type = lo.ToPtr(types.IndicatorType(f.indicatorType))
			}
			if changed("value") {
				u.Value = &f.value
			}
			if changed("unit") {
				u.Unit = &f.unit
			}
			if changed("timestamp") {
				ts, err := time.Parse(time.RFC3339, f.timestamp)
				if err != nil {
					return fmt.Errorf("invalid timestamp: %w", err)
				}
				u.Timestamp = &ts
			}
			if changed("zone") {
				u.ZoneID = &f.zone
			}
			if changed("source") {
				u.SourceID = &f.source
			}
			if changed("extra") {
				u.ExtraData = f.extraData()
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			updated, err := c.indicatorMutator(false).Update(ctx, id, u)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Updated indicator %d (%s %s %s)\n", updated.ID, updated.Type, formatValue(updated.Value), updated.Unit)
			return nil
		},
	}

	f.register(cmd)

	return cmd
}

func (c *cli) indicatorsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an indicator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			return c.deleted("Indicator", id, c.indicatorMutator(yes).Delete(ctx, id))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (c *cli) indicatorMutator(yes bool) *resource.Mutator[types.Indicator, types.IndicatorCreate, types.IndicatorUpdate] {
	fetcher := resource.NewFetcher(c.client.ListIndicators, resource.NewQuery(resource.SortedBy("timestamp", resource.Desc)))

	return resource.NewMutator("indicator", fetcher, resource.Operations[types.Indicator, types.IndicatorCreate, types.IndicatorUpdate]{
		Create: c.client.CreateIndicator,
		Update: c.client.UpdateIndicator,
		Delete: c.client.DeleteIndicator,
	}, c.confirmer(yes))
}

func (c *cli) zonesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zones",
		Aliases: []string{"zone"},
		Short:   "Manage geographic zones",
	}

	cmd.AddCommand(c.zonesListCmd(), c.zonesCreateCmd(), c.zonesUpdateCmd(), c.zonesDeleteCmd())

	return cmd
}

func (c *cli) zonesListCmd() *cobra.Command {
	var lf listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List zones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			q, err := lf.query()
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			state, err := resource.NewFetcher(c.client.ListZones, q).Refresh(ctx)
			if err != nil {
				return err
			}

			t := newTable("", "ID", "NAME", "POSTAL CODE", "COORDINATES", "CREATED")
			for _, z := range state.Envelope.Items {
				t.add(z.ID, z.Name, deref(z.PostalCode), coordinates(z.Geom), z.CreatedAt.Format(time.DateOnly))
			}
			t.render(c.out)
			printPaging(c.out, state.Envelope)

			return nil
		},
	}

	lf.register(cmd, "", resource.Asc)

	return cmd
}

type zoneFlags struct {
	name, postalCode, geom string
}

func (f *zoneFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "zone name")
	cmd.Flags().StringVar(&f.postalCode, "postal-code", "", "postal code")
	cmd.Flags().StringVar(&f.geom, "geom", "", "coordinates as \"lat,lon\"")
}

func (c *cli) warnIfUnmappable(geom string) {
	if _, ok := geo.ParseCoordinates(geom); !ok {
		fmt.Fprintf(c.errOut, "warning: %q is not a \"lat,lon\" pair, the zone will not be shown on the map\n", geom)
	}
}

func (c *cli) zonesCreateCmd() *cobra.Command {
	var f zoneFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			z := types.ZoneCreate{Name: f.name}
			if f.postalCode != "" {
				z.PostalCode = &f.postalCode
			}
			if f.geom != "" {
				c.warnIfUnmappable(f.geom)
				z.Geom = &f.geom
			}

			created, err := c.zoneMutator(false).Create(ctx, z)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Created zone %d (%s)\n", created.ID, created.Name)
			return nil
		},
	}

	f.register(cmd)
	cmd.MarkFlagRequired("name")

	return cmd
}

func (c *cli) zonesUpdateCmd() *cobra.Command {
	var f zoneFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			u := types.ZoneUpdate{}
			if cmd.Flags().Changed("name") {
				u.Name = &f.name
			}
			if cmd.Flags().Changed("postal-code") {
				u.PostalCode = &f.postalCode
			}
			if cmd.Flags().Changed("geom") {
				c.warnIfUnmappable(f.geom)
				u.Geom = &f.geom
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			updated, err := c.zoneMutator(false).Update(ctx, id, u)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.out, "Updated zone %d (%s)\n", updated.ID, updated.Name)
			return nil
		},
	}

	f.register(cmd)

	return cmd
}

func (c *cli) zonesDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a zone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			return c.deleted("Zone", id, c.zoneMutator(yes).Delete(ctx, id))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func (c *cli) zoneMutator(yes bool) *resource.Mutator[types.Zone, types.ZoneCreate, types.ZoneUpdate] {
	fetcher := resource.NewFetcher(c.client.ListZones, resource.NewQuery())

	return resource.NewMutator("zone", fetcher, resource.Operations[types.Zone, types.ZoneCreate, types.ZoneUpdate]{
		Create: c.client.CreateZone,
		Update: c.client.UpdateZone,
		Delete: c.client.DeleteZone,
	}, c.confirmer(yes))
}

func (c *cli) sourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Aliases: []string{"source"},
		Short:   "Inspect data sources",
	}

	var lf listFlags

	list := &cobra.Command{
		Use:   "list",
		Short: "List data sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			q, err := lf.query()
			if err != nil {
				return err
			}

			if err := c.requireLogin(ctx); err != nil {
				return err
			}

			state, err := resource.NewFetcher(c.client.ListSources, q).Refresh(ctx)
			if err != nil {
				return err
			}

			t := newTable("", "ID", "NAME", "URL", "FREQUENCY", "DESCRIPTION")
			for _, s := range state.Envelope.Items {
				t.add(s.ID, s.Name, deref(s.URL), deref(s.Frequency), deref(s.Description))
			}
			t.render(c.out)
			printPaging(c.out, state.Envelope)

			return nil
		},
	}

	lf.register(list, "", resource.Asc)
	cmd.AddCommand(list)

	return cmd
}

func printPaging[T any](w io.Writer, env types.Envelope[T]) {
	if env.Total == 0 {
		return
	}

	from, to := env.Window()
	fmt.Fprintf(w, "\nShowing %d-%d of %d", from+1, to, env.Total)
	if env.HasNext {
		fmt.Fprintf(w, ", next page with --skip %d", env.NextSkip())
	}
	fmt.Fprintln(w)
}

func validType(t string, allowEmpty bool) error {
	if t == "" && allowEmpty {
		return nil
	}
	if !types.IndicatorType(t).Valid() {
		return fmt.Errorf("invalid indicator type %q, expected one of %s", t, typeList())
	}
	return nil
}

func typeList() string {
	return strings.Join(lo.Map(types.IndicatorTypes, func(t types.IndicatorType, _ int) string { return string(t) }), ", ")
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func coordinates(geom *string) string {
	if geom == nil {
		return "-"
	}
	c, ok := geo.ParseCoordinates(*geom)
	if !ok {
		return "invalid (" + *geom + ")"
	}
	return c.String()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
