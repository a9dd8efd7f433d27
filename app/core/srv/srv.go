package srv

type Srv struct {
	rbac *RBACSrv
}

type ApplyFunc func(*Srv)

func SetupSrvs(opts ...ApplyFunc) *Srv {
	a := &Srv{
		rbac: SetupRBACSrv(), // 角色鉴权
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (s *Srv) RBAC() *RBACSrv {
	return s.rbac
}
