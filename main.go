// v9khd builds, inspects, and edits Victor 9000 hard-disk images.
//
// The heavy lifting lives in the subpackages: label (binary codec),
// fatgeom (FAT12 geometry), plan (image planner/builder), transcode
// (volume extract/insert), inspect (reporting), chd (container
// converter), retroscan (surface-scan UI). This file is the cobra
// binding plus file and device plumbing.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"v9khd/chd"
	"v9khd/inspect"
	"v9khd/label"
	"v9khd/plan"
	"v9khd/retroscan"
	"v9khd/transcode"
)

func must(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

// parseVolumeSpec parses NAME:SIZE_MiB[:AU][:ROOT].
func parseVolumeSpec(spec string) (plan.VolumeRequest, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 {
		return plan.VolumeRequest{}, fmt.Errorf("invalid volume spec %q, expected NAME:SIZE[:AU][:ROOT]", spec)
	}
	req := plan.VolumeRequest{Name: parts[0]}

	size, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return plan.VolumeRequest{}, fmt.Errorf("volume %q: bad size %q: %w", req.Name, parts[1], err)
	}
	req.SizeMiB = size

	if len(parts) >= 3 {
		au, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return plan.VolumeRequest{}, fmt.Errorf("volume %q: bad allocation unit %q: %w", req.Name, parts[2], err)
		}
		req.AllocationUnit = uint32(au)
	}
	if len(parts) >= 4 {
		root, err := strconv.ParseUint(parts[3], 10, 16)
		if err != nil {
			return plan.VolumeRequest{}, fmt.Errorf("volume %q: bad root entry count %q: %w", req.Name, parts[3], err)
		}
		req.RootEntries = uint32(root)
	}
	return req, nil
}

func human(b int64) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%dM", b/(1024*1024))
	}
	if b >= 1024 {
		return fmt.Sprintf("%dK", b/1024)
	}
	return fmt.Sprintf("%dB", b)
}

func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func newCreateCmd() *cobra.Command {
	var (
		output, serial string
		volumeSpecs    []string
		cylinders      uint32
		heads, spt     uint32
		bootVolume     int
		alignVolumes   bool
		labelRevision  uint16
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hard-disk image with ROM-safe labels",
		RunE: func(_ *cobra.Command, _ []string) error {
			requests := make([]plan.VolumeRequest, 0, len(volumeSpecs))
			for _, spec := range volumeSpecs {
				req, err := parseVolumeSpec(spec)
				if err != nil {
					return err
				}
				requests = append(requests, req)
			}
			if labelRevision != 1 && labelRevision != 2 {
				return fmt.Errorf("--label-revision must be 1 or 2, got %d", labelRevision)
			}

			layout, err := plan.Plan(plan.Params{
				Geometry:        plan.Geometry{Cylinders: cylinders, Heads: heads, SectorsPerTrack: spt},
				Serial:          serial,
				Volumes:         requests,
				BootVolume:      bootVolume,
				AlignToCylinder: alignVolumes,
				LabelRevision:   labelRevision,
			})
			if err != nil {
				return err
			}
			img, err := layout.BuildImage()
			if err != nil {
				return err
			}
			if err := writeOutput(output, img); err != nil {
				return err
			}

			fmt.Printf("Created %s (%s)\n", output, human(int64(len(img))))
			fmt.Printf("  Geometry: %d cylinders, %d heads, %d sectors/track\n", cylinders, heads, spt)
			fmt.Printf("  Total sectors: %d (limit %d)\n", layout.TotalSectors, uint32(label.MaxTotalBlocks-1))
			for i, r := range layout.Master.WorkingMedia {
				fmt.Printf("  Media region %d: start=%d length=%d\n", i, r.PhysicalAddress, r.BlockCount)
			}
			for i, v := range layout.Volumes {
				fmt.Printf("  Volume %02d %-16q start=%d sectors=%d\n", i, v.Label.NameString(), v.Address, v.Label.Capacity)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "disk image to create")
	cmd.Flags().Uint32Var(&cylinders, "cylinders", 0, "total cylinders")
	cmd.Flags().Uint32Var(&heads, "heads", 8, "heads")
	cmd.Flags().Uint32Var(&spt, "spt", 17, "sectors per track")
	cmd.Flags().StringVar(&serial, "serial", "V9000", "drive serial (max 16 chars)")
	cmd.Flags().StringArrayVar(&volumeSpecs, "volume", nil, "volume spec NAME:SIZE_MiB[:AU][:ROOT], repeatable")
	cmd.Flags().IntVar(&bootVolume, "boot-volume", 0, "primary boot volume index")
	cmd.Flags().BoolVar(&alignVolumes, "align-volumes", false, "align volumes (after the first) to cylinder boundaries")
	cmd.Flags().Uint16Var(&labelRevision, "label-revision", 2, "label revision: 1 = original, 2 = revised (MS-DOS hdsetup)")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("cylinders")
	_ = cmd.MarkFlagRequired("volume")
	return cmd
}

func newInfoCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "info IMAGE",
		Short: "Show the disk label of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			report, err := inspect.Inspect(img)
			if err != nil {
				return err
			}
			report.Render(os.Stdout, verbose)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "include controller parameters and FAT geometry")
	return cmd
}

func newExtractCmd() *cobra.Command {
	var (
		image, out string
		volume     int
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a volume as a mountable FAT12 image",
		RunE: func(_ *cobra.Command, _ []string) error {
			img, err := os.ReadFile(image)
			if err != nil {
				return err
			}
			vol, err := transcode.Extract(img, volume)
			if err != nil {
				return err
			}
			if err := writeOutput(out, vol); err != nil {
				return err
			}
			fmt.Printf("Extracted volume %d to %s (%s)\n", volume, out, human(int64(len(vol))))
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "source disk image")
	cmd.Flags().IntVar(&volume, "volume", 0, "volume index")
	cmd.Flags().StringVar(&out, "out", "", "output volume image")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newInsertCmd() *cobra.Command {
	var (
		image, in, out string
		volume         int
	)
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Reinsert an edited volume into a copy of the image",
		Long: "Reinsert an externally edited volume image. The result is written to --out;\n" +
			"the source image is never modified in place.",
		RunE: func(_ *cobra.Command, _ []string) error {
			if filepath.Clean(out) == filepath.Clean(image) {
				return fmt.Errorf("--out must differ from --image; the source image is never rewritten in place")
			}
			img, err := os.ReadFile(image)
			if err != nil {
				return err
			}
			edited, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			result, err := transcode.Insert(img, volume, edited)
			if err != nil {
				return err
			}
			if err := writeOutput(out, result); err != nil {
				return err
			}
			fmt.Printf("Inserted %s as volume %d into %s\n", in, volume, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "original disk image")
	cmd.Flags().IntVar(&volume, "volume", 0, "volume index")
	cmd.Flags().StringVar(&in, "in", "", "edited volume image")
	cmd.Flags().StringVar(&out, "out", "", "output disk image")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var (
		image, device string
		force         bool
	)
	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write an image to a block device [DANGEROUS]",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !force {
				return fmt.Errorf("--force is required for device operations")
			}
			return copyImageToDevice(image, device)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "source disk image")
	cmd.Flags().StringVar(&device, "device", "", "target block device (e.g. /dev/sdb)")
	cmd.Flags().BoolVar(&force, "force", false, "confirm device operation")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func copyImageToDevice(imagePath, devicePath string) error {
	src, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer src.Close()
	stat, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	imageSize := stat.Size()

	dst, err := os.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dst.Close()

	deviceSize, err := getDeviceSize(dst)
	if err != nil {
		return fmt.Errorf("get device size: %w", err)
	}
	if deviceSize < imageSize {
		return fmt.Errorf("device too small: has %s, need %s", human(deviceSize), human(imageSize))
	}
	if deviceSize > imageSize {
		fmt.Fprintf(os.Stderr, "WARNING: device is %s, only writing %s\n", human(deviceSize), human(imageSize))
	}

	fmt.Printf("Writing %s (%s) to %s...\n", imagePath, human(imageSize), devicePath)
	buf := make([]byte, 1<<20)
	var copied int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write device: %w", werr)
			}
			copied += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("read image: %w", rerr)
		}
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("sync device: %w", err)
	}
	fmt.Printf("Wrote %s to device\n", human(copied))
	return nil
}

func newScanCmd() *cobra.Command {
	var (
		image, device string
		redrawEvery   int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Surface-scan an image or device, region by region (read-only)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if (image == "") == (device == "") {
				return fmt.Errorf("exactly one of --image or --device is required")
			}
			path := image
			if device != "" {
				path = device
			}
			return runScan(path, redrawEvery)
		},
	}
	cmd.Flags().StringVar(&image, "image", "", "disk image to scan")
	cmd.Flags().StringVar(&device, "device", "", "block device to scan")
	cmd.Flags().IntVar(&redrawEvery, "redraw-every", 64, "redraw the map every N sectors")
	return cmd
}

func runScan(path string, redrawEvery int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, label.MasterLabelSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read master label: %w", err)
	}
	master, err := label.DecodeMaster(header)
	if err != nil {
		return err
	}
	total := int64(master.TotalWorkingBlocks())

	ui, err := retroscan.NewUI(total)
	if err != nil {
		return fmt.Errorf("ui init: %w", err)
	}
	defer ui.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		ui.RequestStop()
	}()

	ui.SetTitle(fmt.Sprintf("SCAN %s  %d sectors", filepath.Base(path), total))
	phases := make([]string, len(master.WorkingMedia))
	for i := range master.WorkingMedia {
		phases[i] = fmt.Sprintf("R%d", i)
	}
	ui.SetPhases(phases)
	ui.SetSummaryLines([]string{
		fmt.Sprintf("Serial: %s   Cylinders: %d   Heads: %d", master.SerialString(), master.Controller.Cylinders, master.Controller.Heads),
		fmt.Sprintf("Working media: %d regions, %d sectors", len(master.WorkingMedia), total),
	})
	ui.SetLegend([]string{"Legend:  █ readable   ✗ unreadable   ░ not yet scanned | Q to quit"})

	var bad []int64
	interrupted := false
	for i, region := range master.WorkingMedia {
		ui.SetStatusLines([]string{fmt.Sprintf("Scanning region %d: start=%d length=%d", i, region.PhysicalAddress, region.BlockCount)})
		spanBad, err := retroscan.VerifySpan(f, int64(region.PhysicalAddress), int64(region.BlockCount), ui, redrawEvery)
		bad = append(bad, spanBad...)
		if errors.Is(err, retroscan.ErrInterrupted) {
			interrupted = true
			break
		}
		if err != nil {
			return err
		}
		ui.SetPhaseDone(fmt.Sprintf("R%d", i))
	}
	good, badCount := ui.Counts()
	ui.Close()

	if interrupted {
		fmt.Println("Scan interrupted")
	}
	fmt.Printf("Scanned %d sectors: %d readable, %d bad\n", good+badCount, good, badCount)
	if len(bad) == 0 {
		return nil
	}
	spans := retroscan.Collapse(bad)
	fmt.Println("Bad spans:")
	for _, s := range spans {
		fmt.Printf("  start=%d count=%d\n", s.Start, s.Count)
	}
	fmt.Println("Working media excluding bad spans would be:")
	for _, region := range master.WorkingMedia {
		for _, s := range retroscan.Exclude(int64(region.PhysicalAddress), int64(region.BlockCount), spans) {
			fmt.Printf("  start=%d length=%d\n", s.Start, s.Count)
		}
	}
	return nil
}

func newChdCmd() *cobra.Command {
	var toolPath string
	cmd := &cobra.Command{
		Use:   "chd",
		Short: "Convert images to and from the CHD container (needs chdman)",
	}
	cmd.PersistentFlags().StringVar(&toolPath, "chdman", "", "path to chdman (default: search PATH)")

	var (
		raw, container   string
		cylinders, heads uint32
		spt              uint32
	)
	wrap := &cobra.Command{
		Use:   "wrap",
		Short: "Pack a raw image into a CHD container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tool, err := chd.NewTool(toolPath)
			if err != nil {
				return err
			}
			g := chd.Geometry{Cylinders: cylinders, Heads: heads, SectorsPerTrack: spt}
			if g.Cylinders == 0 || g.Heads == 0 {
				if g, err = geometryFromImage(raw); err != nil {
					return err
				}
			}
			return tool.Wrap(cmd.Context(), raw, container, g)
		},
	}
	wrap.Flags().StringVar(&raw, "in", "", "raw disk image")
	wrap.Flags().StringVar(&container, "out", "", "CHD container to create")
	wrap.Flags().Uint32Var(&cylinders, "cylinders", 0, "override cylinders (default: from the image label)")
	wrap.Flags().Uint32Var(&heads, "heads", 0, "override heads")
	wrap.Flags().Uint32Var(&spt, "spt", 17, "sectors per track")
	_ = wrap.MarkFlagRequired("in")
	_ = wrap.MarkFlagRequired("out")

	var unwrapIn, unwrapOut string
	unwrap := &cobra.Command{
		Use:   "unwrap",
		Short: "Extract the raw image from a CHD container",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tool, err := chd.NewTool(toolPath)
			if err != nil {
				return err
			}
			return tool.Unwrap(cmd.Context(), unwrapIn, unwrapOut)
		},
	}
	unwrap.Flags().StringVar(&unwrapIn, "in", "", "CHD container")
	unwrap.Flags().StringVar(&unwrapOut, "out", "", "raw disk image to create")
	_ = unwrap.MarkFlagRequired("in")
	_ = unwrap.MarkFlagRequired("out")

	cmd.AddCommand(wrap, unwrap)
	return cmd
}

// geometryFromImage reads the CHS values for chd wrap off the image's own
// master label.
func geometryFromImage(path string) (chd.Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return chd.Geometry{}, err
	}
	defer f.Close()
	header := make([]byte, label.MasterLabelSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		return chd.Geometry{}, fmt.Errorf("read master label: %w", err)
	}
	master, err := label.DecodeMaster(header)
	if err != nil {
		return chd.Geometry{}, err
	}
	g := chd.Geometry{
		Cylinders: uint32(master.Controller.Cylinders),
		Heads:     uint32(master.Controller.Heads),
	}
	if g.Cylinders > 0 && g.Heads > 0 {
		g.SectorsPerTrack = master.TotalWorkingBlocks() / (g.Cylinders * g.Heads)
	}
	if g.SectorsPerTrack == 0 {
		return chd.Geometry{}, fmt.Errorf("cannot derive sectors/track from %s; pass --cylinders/--heads/--spt", path)
	}
	return g, nil
}

func main() {
	root := &cobra.Command{
		Use:   "v9khd",
		Short: "Victor 9000 hard-disk image tool",
		Long:  "Create, inspect, and edit Victor 9000 hard-disk images within the boot-ROM limits",
	}
	root.AddCommand(
		newCreateCmd(),
		newInfoCmd(),
		newExtractCmd(),
		newInsertCmd(),
		newWriteCmd(),
		newScanCmd(),
		newChdCmd(),
	)
	must(root.ExecuteContext(context.Background()))
}
