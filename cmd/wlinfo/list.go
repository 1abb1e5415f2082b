package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/danmuck/wlproto/internal/protocol/session"
	"github.com/danmuck/wlproto/internal/proxy"
)

func listCmd(flags *rootFlags) *cobra.Command {
	var outputs bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the advertised globals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := flags.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			data := pterm.TableData{{"NAME", "INTERFACE", "VERSION", "LOADED"}}
			for _, g := range conn.Globals() {
				_, known := conn.Schemas().Lookup(g.Interface)
				data = append(data, []string{
					strconv.FormatUint(uint64(g.Name), 10),
					g.Interface,
					strconv.FormatUint(uint64(g.Version), 10),
					strconv.FormatBool(known),
				})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)

			if outputs {
				return listOutputs(ctx, cmd, conn)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputs, "outputs", false, "bind every output and print its geometry and modes")
	return cmd
}

type outputInfo struct {
	global session.Global
	geo    proxy.Geometry
	name   string
	modes  []proxy.Mode
}

func listOutputs(ctx context.Context, cmd *cobra.Command, conn *session.Conn) error {
	var infos []*outputInfo
	for _, g := range conn.Globals() {
		if g.Interface != "wl_output" {
			continue
		}
		info := &outputInfo{global: g}
		_, err := proxy.BindOutput(conn, g, 0, func(out *proxy.Output) error {
			if _, err := out.OnGeometry(func(geo proxy.Geometry) { info.geo = geo }); err != nil {
				return err
			}
			if _, err := out.OnMode(func(m proxy.Mode) { info.modes = append(info.modes, m) }); err != nil {
				return err
			}
			_, err := out.OnName(func(name string) { info.name = name })
			return err
		})
		if err != nil {
			return err
		}
		infos = append(infos, info)
	}
	if len(infos) == 0 {
		return nil
	}
	if _, err := conn.Sync(ctx); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, info := range infos {
		fmt.Fprintf(w, "output %d %s: %s %s %dx%dmm\n",
			info.global.Name, info.name, info.geo.Make, info.geo.Model,
			info.geo.PhysicalWidth, info.geo.PhysicalHeight)
		for _, m := range info.modes {
			flag := ""
			if m.Current() {
				flag = " current"
			}
			fmt.Fprintf(w, "  mode %dx%d@%.3fHz%s\n", m.Width, m.Height, float64(m.Refresh)/1000, flag)
		}
	}
	return nil
}
