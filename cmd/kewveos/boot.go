package main

import (
	"errors"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/southwarridev/kewveOs/kernel"
	"github.com/southwarridev/kewveOs/kernel/hal"
	"github.com/southwarridev/kewveOs/kernel/hal/bootinfo"
	"github.com/southwarridev/kewveOs/kernel/irq"
	"github.com/southwarridev/kewveOs/kernel/kfmt"
	"github.com/southwarridev/kewveOs/kernel/kmain"
	"github.com/southwarridev/kewveOs/kernel/mm"
	"github.com/southwarridev/kewveOs/kernel/syscall"
)

func newBootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the kernel and drive a demo workload",
		RunE:  runBoot,
	}

	cmd.Flags().String("arch", runtime.GOARCH, "platform to boot (amd64, arm64)")
	cmd.Flags().Uint64("memory-mib", 64, "size of the synthesized physical memory map")
	cmd.Flags().Uint32("quantum", 10, "scheduling quantum in timer ticks")
	cmd.Flags().Uint32("timer-hz", 100, "timer tick rate")
	cmd.Flags().Uint64("heap-kib", 1024, "kernel heap size")
	cmd.Flags().Int("ticks", 50, "number of timer ticks to simulate")

	mustBind(viper.BindPFlag("boot.arch", cmd.Flags().Lookup("arch")))
	mustBind(viper.BindPFlag("boot.memory-mib", cmd.Flags().Lookup("memory-mib")))
	mustBind(viper.BindPFlag("sched.quantum", cmd.Flags().Lookup("quantum")))
	mustBind(viper.BindPFlag("timer.hz", cmd.Flags().Lookup("timer-hz")))
	mustBind(viper.BindPFlag("heap.size-kib", cmd.Flags().Lookup("heap-kib")))
	mustBind(viper.BindPFlag("boot.ticks", cmd.Flags().Lookup("ticks")))

	return cmd
}

// synthesizeBootInfo builds the memory-map handoff a boot loader would
// normally pass to the kernel entry point.
func synthesizeBootInfo(arch string, memoryMiB uint64) *bootinfo.Info {
	totalBytes := memoryMiB << 20

	// Kernel image occupies the low frames, with a reserved firmware
	// hole at the top of the map.
	reservedBytes := totalBytes / 16
	return &bootinfo.Info{
		ArchName: arch,
		MemoryMap: []bootinfo.MemoryRegion{
			{PhysAddress: 0, Length: totalBytes - reservedBytes, Type: bootinfo.RegionAvailable},
			{PhysAddress: totalBytes - reservedBytes, Length: reservedBytes, Type: bootinfo.RegionReserved},
		},
		KernelStart: 4 * mm.PageSize,
		KernelEnd:   64 * mm.PageSize,
	}
}

func runBoot(cmd *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logger := buildLogger(viper.GetString("log.level"))

	// The kernel's diagnostic stream goes to stderr alongside the
	// structured logs.
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stderr, Prefix: []byte("kernel: ")})

	bi := synthesizeBootInfo(viper.GetString("boot.arch"), viper.GetUint64("boot.memory-mib"))
	k, kerr := kmain.Boot(bi, kmain.Config{
		Quantum:  viper.GetUint32("sched.quantum"),
		HeapSize: viper.GetUint64("heap.size-kib") << 10,
		TimerHz:  viper.GetUint32("timer.hz"),
	})
	if kerr != nil {
		logger.Error("boot failed", errAttr(kerr), slog.String("module", kerr.Module))
		return errors.New(kerr.Message)
	}

	logger.Info("kernel booted",
		slog.String("arch", k.Plat.Descriptor().Arch.String()),
		slog.Uint64("free_frames", k.Frames.Stats().FreeFrames),
		slog.Int("drivers", len(k.Devices.Active())))

	if err := runWorkload(k, logger); err != nil {
		return err
	}

	driveInterrupts(k, viper.GetInt("boot.ticks"))

	logger.Info("simulation complete",
		slog.Uint64("timer_ticks", k.Timer.Ticks()),
		slog.Int("processes", k.Sched.Count()),
		slog.Uint64("free_frames", k.Frames.Stats().FreeFrames))
	k.Sched.DumpTo(nil)
	k.Devices.DumpTo(nil)
	kfmt.Flush()
	return nil
}

// runWorkload exercises the syscall surface from the init task: it maps a
// buffer, creates a channel, ships a message through it and spawns a
// child.
func runWorkload(k *kmain.Kernel, logger *slog.Logger) error {
	buf := uint64(0x00400000)
	if _, err := invokeSyscall(k, syscall.SysMemMap, [4]uint64{buf, 2, 0, 0}); err != nil {
		return err
	}

	ch, err := invokeSyscall(k, syscall.SysChannelCreate, [4]uint64{4, 0, 0, 0})
	if err != nil {
		return err
	}

	if _, err = invokeSyscall(k, syscall.SysChannelSend, [4]uint64{ch, buf, 32, syscall.FlagNonBlocking}); err != nil {
		return err
	}
	n, err := invokeSyscall(k, syscall.SysChannelReceive, [4]uint64{ch, buf, 64, syscall.FlagNonBlocking})
	if err != nil {
		return err
	}

	child, err := invokeSyscall(k, syscall.SysProcessCreate, [4]uint64{uint64(k.Init.Priority()), 0, 0, 0})
	if err != nil {
		return err
	}

	logger.Info("workload ran",
		slog.Uint64("channel", ch),
		slog.Uint64("message_bytes", n),
		slog.Uint64("child_pid", child))
	return nil
}

// invokeSyscall performs one syscall the way the user-space shim would:
// load the request registers and trap.
func invokeSyscall(k *kmain.Kernel, num syscall.Number, args [4]uint64) (uint64, error) {
	ctx := &hal.Context{Priv: hal.PrivUser}
	k.Plat.SetSyscallRequest(ctx, uint64(num), args)
	k.Vectors.Dispatch(irq.VectorSyscall, ctx)

	val, code := k.Plat.SyscallResult(ctx)
	if code != kernel.CodeNone {
		return 0, errors.New("syscall " + num.String() + " failed: " + code.String())
	}
	return val, nil
}

// driveInterrupts feeds the kernel the hardware side of the simulation:
// periodic timer ticks with an occasional keyboard scancode raised
// between them.
func driveInterrupts(k *kmain.Kernel, ticks int) {
	scancodes := []uint64{0x1e, 0x30, 0x2e}

	for i := 0; i < ticks; i++ {
		k.Vectors.Dispatch(irq.VectorTimer, &hal.Context{Priv: hal.PrivUser})

		if i%16 == 15 && len(scancodes) > 0 {
			k.Vectors.Raise(irq.VectorKeyboard, &hal.Context{Priv: hal.PrivUser, ErrCode: scancodes[0]})
			scancodes = scancodes[1:]
			k.Vectors.DispatchPending()
		}
	}
}
