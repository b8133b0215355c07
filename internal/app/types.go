package app

import "fleet-rollout/internal/types"

type PublishRequest struct {
	Server             ServerTarget
	Channel            string
	Name               string
	Version            string
	Arch               types.Arch
	Entrypoint         string
	Path               string
	Dir                string
	Whitelist          []types.DeviceID
	AutoWhitelistLimit uint32
	Requirements       map[string]string
}

type PublishResult struct {
	Version types.PackageVersion
	Size    int
}

type WhitelistRequest struct {
	Server  ServerTarget
	Channel string
	Arch    types.Arch
	Name    string
	Hash    types.Hash
	Change  types.WhitelistChange
}

type ReaderKeyRequest struct {
	Server  ServerTarget
	Channel string
}
