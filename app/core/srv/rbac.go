package srv

import (
	"net/http"

	"github.com/mikespook/gorbac/v2"

	"github.com/quizlab-ai/quizlab/pkg/errors"
	"github.com/quizlab-ai/quizlab/pkg/i18n"
)

const (
	// 定义角色ID
	RoleChief  = "role-chief"
	RoleAdmin  = "role-admin"
	RoleEditor = "role-editor"
	RoleViewer = "role-viewer"

	// 定义权限ID
	PermissionChief = "chief"
	PermissionAdmin = "admin"
	PermissionEdit  = "edit"
	PermissionView  = "view"
)

func SetupRBACSrv() *RBACSrv {
	rbac := gorbac.New()

	pChief := gorbac.NewStdPermission(PermissionChief)
	pAdmin := gorbac.NewStdPermission(PermissionAdmin)
	pEdit := gorbac.NewStdPermission(PermissionEdit)
	pView := gorbac.NewStdPermission(PermissionView)

	roleChief := gorbac.NewStdRole(RoleChief)
	roleChief.Assign(pChief)

	roleAdmin := gorbac.NewStdRole(RoleAdmin)
	roleAdmin.Assign(pAdmin)

	roleEditor := gorbac.NewStdRole(RoleEditor)
	roleEditor.Assign(pEdit)

	roleViewer := gorbac.NewStdRole(RoleViewer)
	roleViewer.Assign(pView)

	rbac.Add(roleChief)
	rbac.Add(roleAdmin)
	rbac.Add(roleEditor)
	rbac.Add(roleViewer)

	// 设置角色继承关系
	rbac.SetParent(RoleEditor, RoleViewer)
	rbac.SetParent(RoleAdmin, RoleEditor)
	rbac.SetParent(RoleChief, RoleAdmin)

	return &RBACSrv{
		rbac: rbac,
	}
}

type RBACSrv struct {
	rbac *gorbac.RBAC
}

// CheckPermission 检查角色是否有某权限
func (a *RBACSrv) CheckPermission(roleID, permissionID string) bool {
	return a.rbac.IsGranted(roleID, gorbac.NewStdPermission(permissionID), nil)
}

type RoleObject interface {
	GetUser() (string, error)
}

type LazyRoler struct {
	f      func() (string, error)
	userID string
}

func (s *LazyRoler) GetUser() (string, error) {
	if s.userID == "" {
		var err error
		if s.userID, err = s.f(); err != nil {
			return "", err
		}
	}
	return s.userID, nil
}

func NewRolerWithLazyload(f func() (string, error)) *LazyRoler {
	return &LazyRoler{
		f: f,
	}
}

type RoleUser interface {
	GetRole() string
	GetUser() string
}

// Check 管理端角色只检测权限，普通用户则检测资源是否属于该用户
func (a *RBACSrv) Check(user RoleUser, obj RoleObject, permissionID string) *errors.CustomizedError {
	if !a.CheckPermission(user.GetRole(), permissionID) {
		resourceUser, err := obj.GetUser()
		if err != nil {
			return errors.Trace("RBACSrv.Check", err)
		}
		if user.GetUser() != resourceUser {
			return errors.New("RBACSrv.Check.ClientUser", i18n.ERROR_PERMISSION_DENIED, nil).Code(http.StatusForbidden)
		}
	}
	return nil
}
