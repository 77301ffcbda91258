package main

//go:generate swag init -g cmd/investcore/main.go -o docs

// @title           investcore API
// @version         0.1.0
// @description     Holdings ledger, transaction settlement and portfolio optimization.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
