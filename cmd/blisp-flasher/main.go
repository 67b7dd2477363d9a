package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bigbag/blisp-flasher/internal/chip"
	"github.com/bigbag/blisp-flasher/internal/detect"
	"github.com/bigbag/blisp-flasher/internal/firmware"
	"github.com/bigbag/blisp-flasher/internal/flasher"
	"github.com/bigbag/blisp-flasher/internal/isp"
	"github.com/bigbag/blisp-flasher/internal/protocol"
	"github.com/bigbag/blisp-flasher/internal/serial"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	chipFlag         string
	portFlag         string
	baudFlag         int
	verboseFlag      bool
	probeFlag        bool
	pendingLimitFlag int

	addressFlag uint32
	resetFlag   bool
	loaderFlag  string
	xtalFlag    string

	eraseAllFlag    bool
	eraseLengthFlag uint32
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "blisp-flasher",
		Short: "Flash firmware to Bouffalo Lab BL60x/BL70x/BL61x/BL808 chips",
		Long: `blisp-flasher talks to the Bouffalo Lab mask ROM over UART or USB,
starts the eflash_loader when the chip needs one, and writes firmware
to flash or runs it from RAM.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if verboseFlag {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&chipFlag, "chip", "c", "", "Chip type ("+chipNames()+")")
	pf.StringVarP(&portFlag, "port", "p", "", "Serial port (USB auto-detect if not specified)")
	pf.IntVarP(&baudFlag, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "Print protocol traces")
	pf.BoolVar(&probeFlag, "probe", false, "Query boot info before handshaking")
	pf.IntVar(&pendingLimitFlag, "pending-limit", 0, "Fail an erase on its N-th pending reply (0 = wait forever)")

	// Write command
	writeCmd := &cobra.Command{
		Use:   "write <firmware>",
		Short: "Write firmware to flash",
		Long: `Write a .bin, .hex or .dfu image to flash.

Raw .bin files are written at --address. A raw image aimed at address 0
gets a default boot header at 0 and is placed at 0x2000.`,
		Args: cobra.ExactArgs(1),
		RunE: runWrite,
	}
	writeCmd.Flags().Uint32VarP(&addressFlag, "address", "a", protocol.BootHeaderAddress, "Flash address for .bin files")
	writeCmd.Flags().BoolVar(&resetFlag, "reset", false, "Reset the chip after writing")
	writeCmd.Flags().StringVar(&loaderFlag, "loader", "", "eflash_loader image to use instead of the bundled one")
	writeCmd.Flags().StringVar(&xtalFlag, "xtal", "", "Crystal variant of the eflash_loader (chip default if empty)")

	// Run command
	runCmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load an image into RAM and start it",
		Long: `Load an image into RAM through the mask ROM and start it.

Images beginning with a boot header carry their own segment addresses.
Raw images are loaded at --address, which defaults to the chip TCM on
bl60x and bl70x and is required on other chips.`,
		Args: cobra.ExactArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().Uint32VarP(&addressFlag, "address", "a", 0, "RAM load address for raw images")

	// Erase command
	eraseCmd := &cobra.Command{
		Use:   "erase",
		Short: "Erase flash",
		RunE:  runErase,
	}
	eraseCmd.Flags().BoolVar(&eraseAllFlag, "all", false, "Erase the whole chip")
	eraseCmd.Flags().Uint32VarP(&addressFlag, "address", "a", 0, "Start address")
	eraseCmd.Flags().Uint32VarP(&eraseLengthFlag, "length", "l", 0, "Number of bytes to erase")
	eraseCmd.Flags().StringVar(&loaderFlag, "loader", "", "eflash_loader image to use instead of the bundled one")
	eraseCmd.Flags().StringVar(&xtalFlag, "xtal", "", "Crystal variant of the eflash_loader (chip default if empty)")

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show device info",
		Long:  "Handshake with the ROM and print its version and the chip ID.",
		RunE:  runInfo,
	}

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		RunE:  runList,
	}

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("blisp-flasher %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(writeCmd, runCmd, eraseCmd, infoCmd, listCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func chipNames() string {
	var names []string
	for _, f := range chip.Families() {
		names = append(names, f.String())
	}
	return strings.Join(names, ", ")
}

func selectedProfile() (chip.Profile, error) {
	if chipFlag == "" {
		return chip.Profile{}, fmt.Errorf("--chip is required (%s)", chipNames())
	}
	return chip.Lookup(chipFlag)
}

// openFlasher opens the port and connects. romOnly stops before the
// eflash_loader, for RAM runs. The returned session must be closed.
func openFlasher(profile chip.Profile, bar *progress, romOnly bool) (*flasher.Flasher, *isp.Session, error) {
	port, err := serial.Open(portFlag, baudFlag, profile.USBDiscovery)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open port: %w", err)
	}
	fmt.Printf("Port: %s @ %d baud\n", port.PortName(), baudFlag)

	sess := isp.NewSession(port, profile,
		isp.WithBaudRate(baudFlag),
		isp.WithUSB(port.IsUSB()),
		isp.WithPendingLimit(pendingLimitFlag),
		isp.WithLogger(logrus.StandardLogger()))

	opts := []flasher.Option{
		flasher.WithProgress(bar.Update),
		flasher.WithXtal(xtalFlag),
		flasher.WithProbe(probeFlag),
		flasher.WithLogger(logrus.StandardLogger()),
	}
	if loaderFlag != "" {
		image, err := os.ReadFile(loaderFlag)
		if err != nil {
			sess.Close()
			return nil, nil, fmt.Errorf("failed to read eflash_loader: %w", err)
		}
		opts = append(opts, flasher.WithLoader(func(string) ([]byte, error) { return image, nil }))
	}
	f := flasher.New(sess, opts...)

	fmt.Printf("Connecting to %s...\n", profile.Family)
	connect := f.Connect
	if romOnly {
		connect = f.ConnectROM
	}
	bar.SetDescription("Loading eflash_loader")
	if err := connect(); err != nil {
		sess.Close()
		return nil, nil, err
	}
	bar.Finish()

	info := f.BootInfo()
	fmt.Printf("BootROM version %s, ChipID: %s\n", info.RomVersionString(), info.ChipIDString())
	return f, sess, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	payload, err := firmware.Load(args[0], addressFlag)
	if err != nil {
		return err
	}
	fmt.Printf("Firmware: %s (%d bytes, %s) at 0x%X\n", args[0], len(payload.Data), payload.Format, payload.Address)

	profile, err := selectedProfile()
	if err != nil {
		return err
	}
	bar := newProgress()
	f, sess, err := openFlasher(profile, bar, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	for _, r := range flasher.Regions(payload.Data, payload.Address) {
		fmt.Printf("Writing %s at 0x%X (%d bytes)\n", r.Name, r.Address, len(r.Data))
	}
	bar.SetDescription("Flashing")
	if err := f.FlashImage(payload.Data, payload.Address); err != nil {
		return err
	}
	bar.Finish()
	fmt.Println("Flash complete!")

	if resetFlag {
		fmt.Println("Resetting device...")
		if err := f.Reboot(); err != nil {
			fmt.Printf("Warning: reset failed: %v\n", err)
		}
	}

	fmt.Println("Done!")
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	profile, err := selectedProfile()
	if err != nil {
		return err
	}
	payload, err := firmware.Load(args[0], addressFlag)
	if err != nil {
		return err
	}

	addr, err := runAddress(profile, payload)
	if err != nil {
		return err
	}

	bar := newProgress()
	f, sess, err := openFlasher(profile, bar, true)
	if err != nil {
		return err
	}
	defer sess.Close()

	fmt.Printf("Loading %s (%d bytes) into RAM at 0x%X\n", args[0], len(payload.Data), addr)
	bar.SetDescription("Loading")
	if err := f.RunApp(payload.Data, addr); err != nil {
		return err
	}
	bar.Finish()

	fmt.Println("Done!")
	return nil
}

// runAddress picks the RAM load address: the payload's, else the chip TCM.
// Raw images need one; prebuilt images carry their own.
func runAddress(profile chip.Profile, payload *firmware.Payload) (uint32, error) {
	addr := payload.Address
	if addr == 0 {
		addr = profile.TCMAddress
	}
	if addr == 0 && !bytes.HasPrefix(payload.Data, protocol.BootHeaderMagic[:]) {
		return 0, fmt.Errorf("--address is required to run a raw image on %s", profile.Family)
	}
	return addr, nil
}

func runErase(cmd *cobra.Command, args []string) error {
	if !eraseAllFlag && eraseLengthFlag == 0 {
		return fmt.Errorf("either --all or --length is required")
	}

	profile, err := selectedProfile()
	if err != nil {
		return err
	}
	bar := newProgress()
	f, sess, err := openFlasher(profile, bar, false)
	if err != nil {
		return err
	}
	defer sess.Close()

	if eraseAllFlag {
		fmt.Println("Erasing whole chip...")
		err = f.EraseAll()
	} else {
		fmt.Printf("Erasing 0x%X-0x%X...\n", addressFlag, addressFlag+eraseLengthFlag-1)
		err = f.Erase(addressFlag, eraseLengthFlag)
	}
	if err != nil {
		return err
	}

	fmt.Println("Done!")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	profile, err := selectedProfile()
	if err != nil {
		return err
	}

	result, err := detect.New(profile, baudFlag).DetectOnPort(portFlag)
	if err != nil {
		return fmt.Errorf("failed to detect device: %w", err)
	}
	printDeviceInfo(result)
	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:     %s\n", d.Port)
	fmt.Printf("  Chip:     %s\n", d.Chip)
	fmt.Printf("  BootROM:  %s\n", d.RomVersion)
	fmt.Printf("  Chip ID:  %s\n", d.ChipID)
	if d.InLoader {
		fmt.Println("  (eflash_loader running)")
	}
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := detect.ListDevices()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		switch {
		case p.IsISP():
			fmt.Printf("  %s  %s:%s  (BL USB ISP)\n", p.Name, p.VID, p.PID)
		case p.IsUSB:
			fmt.Printf("  %s  %s:%s\n", p.Name, p.VID, p.PID)
		default:
			fmt.Printf("  %s\n", p.Name)
		}
	}

	return nil
}
