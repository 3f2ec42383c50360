package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"
	ldap "github.com/go-ldap/ldap/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/dao/model"
	"github.com/nimbus-lab/nimbus/internal/resputil"
	"github.com/nimbus-lab/nimbus/internal/util"
	"github.com/nimbus-lab/nimbus/pkg/config"
)

//nolint:gochecknoinits // This is the standard way to register a gin handler.
func init() {
	Registers = append(Registers, NewAuthMgr)
}

type AuthMgr struct {
	name     string
	store    dao.Store
	tokenMgr *util.TokenManager
}

func NewAuthMgr(conf *RegisterConfig) Manager {
	return &AuthMgr{
		name:     "auth",
		store:    conf.Store,
		tokenMgr: util.GetTokenMgr(),
	}
}

func (mgr *AuthMgr) GetName() string { return mgr.name }

func (mgr *AuthMgr) RegisterPublic(g *gin.RouterGroup) {
	g.POST("/login", mgr.Login)
	g.POST("/refresh", mgr.RefreshToken)
}

func (mgr *AuthMgr) RegisterProtected(_ *gin.RouterGroup) {}

func (mgr *AuthMgr) RegisterAdmin(_ *gin.RouterGroup) {}

type (
	LoginReq struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	LoginResp struct {
		AccessToken  string     `json:"accessToken"`
		RefreshToken string     `json:"refreshToken"`
		RolePlatform model.Role `json:"rolePlatform"`
	}
)

func (mgr *AuthMgr) Login(c *gin.Context) {
	var req LoginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}

	user, err := mgr.store.UserByName(c, req.Username)
	if err != nil {
		resputil.Error(c, "invalid credentials", resputil.InvalidCredentials)
		return
	}
	if user.Status != model.StatusActive {
		resputil.Error(c, "user is inactive", resputil.UserInactive)
		return
	}

	if config.GetConfig().LDAP.Enable {
		err = ldapBind(req.Username, req.Password)
	} else if user.Password != nil {
		err = bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(req.Password))
	} else {
		err = fmt.Errorf("no local credential for %s", req.Username)
	}
	if err != nil {
		resputil.Error(c, "invalid credentials", resputil.InvalidCredentials)
		return
	}

	msg := &util.JWTMessage{
		UserID:       user.ID,
		Username:     user.Name,
		RolePlatform: user.Role,
	}
	accessToken, refreshToken, err := mgr.tokenMgr.CreateTokens(msg)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, LoginResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RolePlatform: user.Role,
	})
}

// ldapBind authenticates against the directory: bind as the service account,
// locate the user's DN, then bind again with the submitted password.
func ldapBind(username, password string) error {
	authConfig := config.GetConfig().LDAP
	l, err := ldap.DialURL(authConfig.Address)
	if err != nil {
		return err
	}
	defer l.Close()
	if err = l.Bind(authConfig.UserName, authConfig.Password); err != nil {
		return err
	}

	searchRequest := ldap.NewSearchRequest(
		authConfig.SearchDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(username)),
		[]string{"dn"},
		nil,
	)
	searchResult, err := l.Search(searchRequest)
	if err != nil {
		return err
	}
	if len(searchResult.Entries) != 1 {
		return fmt.Errorf("user not found or too many entries returned")
	}
	return l.Bind(searchResult.Entries[0].DN, password)
}

type RefreshReq struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (mgr *AuthMgr) RefreshToken(c *gin.Context) {
	var req RefreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		resputil.BadRequestError(c, err.Error())
		return
	}
	msg, err := mgr.tokenMgr.CheckToken(req.RefreshToken)
	if err != nil {
		resputil.HTTPError(c, 401, err.Error(), resputil.TokenExpired)
		return
	}
	// Re-read the role so a refresh cannot resurrect revoked privileges.
	user, err := mgr.store.UserByID(c, msg.UserID)
	if err != nil {
		resputil.HTTPError(c, 401, "User not found", resputil.TokenExpired)
		return
	}
	msg.RolePlatform = user.Role
	accessToken, refreshToken, err := mgr.tokenMgr.CreateTokens(&msg)
	if err != nil {
		resputil.Error(c, err.Error(), resputil.NotSpecified)
		return
	}
	resputil.Success(c, LoginResp{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		RolePlatform: user.Role,
	})
}
