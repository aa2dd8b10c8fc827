package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehub/bluetooth"
	"github.com/srg/blehub/internal/bledb"
	"github.com/srg/blehub/internal/device"
	"github.com/srg/blehub/scanner"
	"golang.org/x/term"
)

var validFormats = []string{"table", "json"}

type scanOptions struct {
	duration     time.Duration
	format       string
	adapters     []string
	services     []string
	manufacturer string
	name         string
	namePrefix   string
	allowList    []string
	blockList    []string
	noDuplicates bool
	watch        bool
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE devices",
		Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Advertisements from every configured adapter go through the dispatch layer;
only devices matching the filters are shown. Several --services values match
a device advertising any of them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, opts)
		},
	}

	cmd.Flags().DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&opts.adapters, "adapter", "a", nil, "Adapters to scan on (default from config)")
	cmd.Flags().StringSliceVarP(&opts.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringVarP(&opts.manufacturer, "manufacturer", "m", "", "Filter by manufacturer (company) id, e.g. 0x004C")
	cmd.Flags().StringVar(&opts.name, "name", "", "Filter by local name, glob patterns allowed")
	cmd.Flags().StringVar(&opts.namePrefix, "name-prefix", "", "Filter by local name prefix")
	cmd.Flags().StringSliceVar(&opts.allowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&opts.blockList, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&opts.noDuplicates, "no-duplicates", true, "Filter duplicate advertisements")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Continuously scan and update results")

	return cmd
}

// matchers builds one matcher per service UUID, sharing the other filters
func (o *scanOptions) matchers() ([]*bluetooth.Matcher, error) {
	base := bluetooth.Matcher{
		LocalName:       o.name,
		LocalNamePrefix: o.namePrefix,
	}

	if o.manufacturer != "" {
		id, err := strconv.ParseUint(o.manufacturer, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid manufacturer id %q: %w", o.manufacturer, err)
		}
		base.ManufacturerID = bluetooth.Uint16(uint16(id))
	}

	if len(o.services) == 0 {
		return []*bluetooth.Matcher{&base}, nil
	}

	uuids, err := device.ValidateUUID(o.services...)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID: %w", err)
	}
	matchers := make([]*bluetooth.Matcher, 0, len(uuids))
	for _, uuid := range uuids {
		m := base
		m.ServiceUUID = uuid
		matchers = append(matchers, &m)
	}
	return matchers, nil
}

// scanResults collects the latest matching record per address
type scanResults struct {
	mu      sync.Mutex
	devices map[string]bluetooth.ServiceInfo
}

func newScanResults() *scanResults {
	return &scanResults{devices: make(map[string]bluetooth.ServiceInfo)}
}

func (r *scanResults) add(info bluetooth.ServiceInfo, _ bluetooth.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[info.Address] = info
}

func (r *scanResults) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// snapshot returns the records sorted by name, unnamed devices last
func (r *scanResults) snapshot() []bluetooth.ServiceInfo {
	r.mu.Lock()
	infos := make([]bluetooth.ServiceInfo, 0, len(r.devices))
	for _, info := range r.devices {
		infos = append(infos, info)
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if (a.Name == "") != (b.Name == "") {
			return a.Name != ""
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Address < b.Address
	})
	return infos
}

func runScan(cmd *cobra.Command, opts *scanOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Configure logger based on --log-level and --verbose flags
	logger, err := configureLogger(cmd, cfg, logrus.WarnLevel)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if cmd.Flags().Changed("format") {
		format = opts.format
	}
	if !slices.Contains(validFormats, format) {
		return fmt.Errorf("%w '%s': must be one of %v", ErrInvalidFormat, format, validFormats)
	}

	matchers, err := opts.matchers()
	if err != nil {
		return err
	}

	duration := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		duration = opts.duration
	} else if opts.watch {
		// watch mode runs until interrupted unless a duration is given
		duration = 0
	}

	adapters := cfg.Adapters
	if len(opts.adapters) > 0 {
		adapters = opts.adapters
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	manager := bluetooth.NewManager(logger, bluetooth.WithOptions(cfg.ManagerOptions()))
	results := newScanResults()
	for _, m := range matchers {
		unsubscribe := manager.RegisterCallback(results.add, m, bluetooth.ScanningModeActive, false)
		defer unsubscribe()
	}
	done := manager.Start(ctx)

	for _, adapter := range adapters {
		scanOpts := cfg.ScannerOptions(adapter)
		scanOpts.AllowList = opts.allowList
		scanOpts.BlockList = opts.blockList
		scanOpts.DuplicateFilter = opts.noDuplicates

		if _, err := manager.StartScanner(ctx, scanner.New(manager, logger, scanOpts)); err != nil {
			_ = manager.Stop()
			<-done
			return err
		}
	}

	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	if opts.watch {
		watchResults(ctx, out, results, format, tty)
	} else {
		if tty && format == "table" && duration > 0 {
			progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", "Scanning", duration, results.len)
			progress.Start()
			<-ctx.Done()
			progress.Stop()
		} else {
			<-ctx.Done()
		}
	}

	stopErr := manager.Stop()
	<-done
	if stopErr != nil {
		logger.WithError(stopErr).Warn("Failed to stop scanners")
	}

	if opts.watch && tty {
		clearScreen(out)
	}
	return displayDevices(out, results.snapshot(), format, tty)
}

// watchResults redraws the table every second until ctx is done
func watchResults(ctx context.Context, out io.Writer, results *scanResults, format string, tty bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tty {
				clearScreen(out)
			}
			_ = displayDevices(out, results.snapshot(), format, tty)
		}
	}
}

func displayDevices(out io.Writer, infos []bluetooth.ServiceInfo, format string, colors bool) error {
	switch format {
	case "json":
		return displayDevicesJSON(out, infos)
	default:
		if len(infos) == 0 {
			_, err := fmt.Fprintln(out, "No devices discovered")
			return err
		}
		return displayDevicesTable(out, infos, time.Now(), colors)
	}
}

func displayDevicesTable(out io.Writer, infos []bluetooth.ServiceInfo, now time.Time, colors bool) error {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tMANUFACTURER\tLAST SEEN")

	for _, info := range infos {
		name := info.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		labels := make([]string, len(info.ServiceUUIDs))
		for i, uuid := range info.ServiceUUIDs {
			labels[i] = bledb.ServiceLabel(uuid)
		}
		services := strings.Join(labels, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		ids := info.ManufacturerIDs()
		manufacturers := make([]string, len(ids))
		for i, id := range ids {
			manufacturers[i] = bledb.CompanyLabel(id)
		}

		lastSeen := now.Sub(info.Time).Truncate(time.Second)
		if lastSeen < 0 {
			lastSeen = 0
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s ago\n",
			name, info.Address, rssiText(info.RSSI, false), services, strings.Join(manufacturers, ","), lastSeen)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	lines := strings.SplitAfter(buf.String(), "\n")
	if colors {
		// tabwriter counts escape bytes as width, so color only after alignment
		for i, info := range infos {
			lines[i+1] = colorRSSI(lines[i+1], info)
		}
	}
	_, err := io.WriteString(out, strings.Join(lines, ""))
	return err
}

// colorRSSI swaps the aligned plain RSSI cell of a table row for its colored form
func colorRSSI(line string, info bluetooth.ServiceInfo) string {
	start := strings.Index(line, info.Address)
	if start < 0 {
		return line
	}
	start += len(info.Address)

	plain := rssiText(info.RSSI, false)
	i := strings.Index(line[start:], plain)
	if i < 0 {
		return line
	}
	i += start
	return line[:i] + rssiText(info.RSSI, true) + line[i+len(plain):]
}

// rssiText renders the signal strength, colored by quality on a terminal
func rssiText(rssi int, colors bool) string {
	text := fmt.Sprintf("%d dBm", rssi)
	if !colors {
		return text
	}

	var c *color.Color
	switch {
	case rssi >= -60:
		c = color.New(color.FgGreen)
	case rssi >= -80:
		c = color.New(color.FgYellow)
	default:
		c = color.New(color.FgRed)
	}
	c.EnableColor()
	return c.Sprint(text)
}

func displayDevicesJSON(out io.Writer, infos []bluetooth.ServiceInfo) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(infos)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func clearScreen(out io.Writer) {
	fmt.Fprint(out, "\033[H\033[2J")
}
