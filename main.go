package main

import (
	"log"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "crazyflie-go"
	app.Usage = "Connect to, log from and command Crazyflies over USB"
	app.Commands = commands

	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
