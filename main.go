package main

import "github.com/mselser95/predict-session/cmd"

func main() {
	cmd.Execute()
}
