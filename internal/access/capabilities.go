package access

// Capabilities is the fixed set of named permissions the UI and route
// guards consume. Each is a pure function of the effective level plus the
// platform owner/admin flags.
type Capabilities struct {
	CanManageServers bool
	CanManagePlugins bool
	CanManageBackups bool
	CanManageMods    bool
	CanViewConsole   bool
	CanSendChat      bool
	CanViewStats     bool
	CanManageUsers   bool
	CanEditConfigs   bool
}

func deriveCapabilities(level Role, owner, admin bool) Capabilities {
	platform := owner || admin
	return Capabilities{
		CanManageServers: platform || level >= RoleAdmin,
		CanManagePlugins: platform || level >= RoleHelper,
		CanManageBackups: platform || level >= RoleHelper,
		CanManageMods:    platform || level >= RoleHelper,
		CanViewConsole:   platform || level >= RoleHelper,
		CanSendChat:      platform || level >= RoleUser,
		CanViewStats:     platform || level >= RoleUser,
		CanManageUsers:   platform,
		CanEditConfigs:   platform || level >= RoleAdmin,
	}
}
