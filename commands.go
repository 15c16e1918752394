package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli"

	"github.com/bitcraze/crazyflie-go/crazyflie"
	"github.com/bitcraze/crazyflie-go/crazyserver"
	"github.com/bitcraze/crazyflie-go/crazyusb"
)

var commands = []cli.Command{
	{
		Name:   "info",
		Usage:  "Connect over USB and print firmware and TOC information",
		Action: infoCommand,
	},

	{
		Name:      "params",
		Usage:     "List parameters and their current values",
		ArgsUsage: "[group filter]",
		Action:    paramsCommand,
	},

	{
		Name:      "log",
		Usage:     "Stream log variables to stdout",
		ArgsUsage: "<group.name> [group.name ...]",
		Flags: []cli.Flag{
			cli.UintFlag{
				Name:  "period, p",
				Value: 100,
				Usage: "Sample period in milliseconds",
			},
			cli.DurationFlag{
				Name:  "duration, d",
				Value: 0,
				Usage: "How long to log for (0 logs until interrupted)",
			},
		},
		Action: logCommand,
	},

	{
		Name:   "console",
		Usage:  "Print the firmware console",
		Action: consoleCommand,
	},

	crazyserver.ServeCommand,
}

func connectUsb() (*crazyflie.Crazyflie, error) {
	link, err := crazyusb.Open()
	if err != nil {
		return nil, err
	}
	return crazyflie.Connect(link)
}

func infoCommand(ctx *cli.Context) error {
	cf, err := connectUsb()
	if err != nil {
		return err
	}
	defer cf.Disconnect()

	firmware, err := cf.Platform.FirmwareVersion()
	if err != nil {
		return err
	}
	device, err := cf.Platform.DeviceTypeName()
	if err != nil {
		return err
	}

	fmt.Printf("Device:   %s\n", device)
	fmt.Printf("Firmware: %s\n", firmware)
	fmt.Printf("Log:      %d variables\n", cf.Log.Toc().Len())
	fmt.Printf("Param:    %d parameters\n", cf.Param.Toc().Len())
	return nil
}

func paramsCommand(ctx *cli.Context) error {
	filter := ctx.Args().First()

	cf, err := connectUsb()
	if err != nil {
		return err
	}
	defer cf.Disconnect()

	for _, name := range cf.Param.Names() {
		if filter != "" && !strings.HasPrefix(name, filter) {
			continue
		}
		value, err := cf.Param.Get(name)
		if err != nil {
			continue
		}
		access := "rw"
		if writable, _ := cf.Param.IsWritable(name); !writable {
			access = "ro"
		}
		fmt.Printf("%-40s %-4s %s %v\n", name, value.Type, access, value.Interface())
	}
	return nil
}

func logCommand(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("no log variables given")
	}
	period := time.Duration(ctx.Uint("period")) * time.Millisecond
	duration := ctx.Duration("duration")

	cf, err := connectUsb()
	if err != nil {
		return err
	}
	defer cf.Disconnect()

	block, err := cf.Log.CreateBlock(ctx.Args()...)
	if err != nil {
		return err
	}
	defer block.Close()

	if err := block.Start(period); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if duration > 0 {
		deadline = time.After(duration)
	}
	for {
		select {
		case sample, ok := <-block.Samples():
			if !ok {
				return cf.Wait()
			}
			if sample.Err != nil {
				continue
			}
			fmt.Printf("%8d", sample.Timestamp)
			for _, v := range block.Variables() {
				fmt.Printf("  %s=%v", v.FullName(), sample.Data[v.FullName()].Interface())
			}
			fmt.Println()
		case <-deadline:
			return nil
		}
	}
}

func consoleCommand(ctx *cli.Context) error {
	cf, err := connectUsb()
	if err != nil {
		return err
	}
	defer cf.Disconnect()

	for line := range cf.Console.Lines() {
		fmt.Println(line)
	}
	return cf.Wait()
}
